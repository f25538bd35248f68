package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// tokenDomain separa o hash de tokens de sessão de qualquer outro uso do segredo
const tokenDomain = "parley 2024-01-01 session token hash"

// SessionClaims são as claims de um token de sessão. A expiração coincide
// com o próximo desafio da sessão.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenService lida com a emissão e validação dos tokens de sessão
type TokenService struct {
	jwtSecret []byte
	hashKey   [32]byte
	now       func() time.Time
}

// NewTokenService cria um novo serviço de token
func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("segredo de sessão não pode ser vazio")
	}
	s := &TokenService{
		jwtSecret: []byte(secret),
		now:       time.Now,
	}
	blake3.DeriveKey(tokenDomain, []byte(secret), s.hashKey[:])
	return s, nil
}

// NewSessionToken cria um token JWT para a sessão informada
func (s *TokenService) NewSessionToken(userID, sessionID uuid.UUID, expiresAt time.Time) (string, error) {
	now := s.now()
	claims := SessionClaims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(), // 'subject' (o ID do usuário)
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("falha ao assinar token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken verifica assinatura e expiração e devolve as claims
func (s *TokenService) ParseSessionToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verifica o método de assinatura
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("método de assinatura inesperado: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("falha ao parsear token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token inválido")
	}
	return claims, nil
}

// UserID extrai o 'sub' das claims
func (c *SessionClaims) UserID() (uuid.UUID, error) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("'sub' do token não é um UUID válido: %w", err)
	}
	return userID, nil
}

// HashToken calcula o hash BLAKE3 com chave que é gravado no lugar do token
func (s *TokenService) HashToken(token string) []byte {
	hasher, err := blake3.NewKeyed(s.hashKey[:])
	if err != nil {
		panic("auth: falha ao inicializar BLAKE3 com chave: " + err.Error())
	}
	hasher.Write([]byte(token))
	return hasher.Sum(nil)
}
