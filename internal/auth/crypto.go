package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"regexp"
)

// SecretLength é o tamanho dos ids de desafio, soluções e passkeys
const SecretLength = 20

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var ErrInvalidPublicKey = errors.New("chave pública inválida")

// RandomString gera n caracteres alfanuméricos com crypto/rand
func RandomString(n int) (string, error) {
	out := make([]byte, n)
	size := big.NewInt(int64(len(alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("falha ao gerar aleatório: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// ParsePublicKey decodifica uma chave RSA em base64 (DER SubjectPublicKeyInfo)
func ParsePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: não é RSA", ErrInvalidPublicKey)
	}
	if key.N.BitLen() < 2048 {
		return nil, fmt.Errorf("%w: chave menor que 2048 bits", ErrInvalidPublicKey)
	}
	return key, nil
}

// Encrypt cifra com RSA-OAEP (SHA-256) e retorna base64
func Encrypt(key *rsa.PublicKey, plaintext []byte) (string, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("falha ao cifrar: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

var (
	browserRegex = regexp.MustCompile(`(Firefox|Edg|OPR|Chrome|Safari)/[\d.]+`)
	deviceRegex  = regexp.MustCompile(`\(([^;)]+)`)
)

// Fingerprint extrai navegador e dispositivo do User-Agent, cada um
// cifrado para a chave do usuário. Campos não reconhecidos voltam nil.
func Fingerprint(userAgent string, key *rsa.PublicKey) (browser, device *string, err error) {
	if userAgent == "" {
		return nil, nil, nil
	}
	encryptGroup := func(m []string) (*string, error) {
		if len(m) < 2 || m[1] == "" {
			return nil, nil
		}
		enc, err := Encrypt(key, []byte(m[1]))
		if err != nil {
			return nil, err
		}
		return &enc, nil
	}
	if browser, err = encryptGroup(browserRegex.FindStringSubmatch(userAgent)); err != nil {
		return nil, nil, err
	}
	if device, err = encryptGroup(deviceRegex.FindStringSubmatch(userAgent)); err != nil {
		return nil, nil, err
	}
	return browser, device, nil
}
