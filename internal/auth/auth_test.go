package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// newTestKey gera um par RSA e a chave pública no formato aceito pela API
func newTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	return priv, base64.StdEncoding.EncodeToString(der)
}

func decrypt(t *testing.T, priv *rsa.PrivateKey, encoded string) string {
	t.Helper()
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		t.Fatalf("DecryptOAEP: %v", err)
	}
	return string(plain)
}

func TestChallengeSolveOnce(t *testing.T) {
	t.Parallel()
	priv, pub := newTestKey(t)
	key, err := ParsePublicKey(pub)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}

	store := NewChallengeStore(60 * time.Second)
	id, encrypted, err := store.Issue(IntentNewAccount, ChallengePayload{Username: "alice", PublicKey: pub}, key)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(id) != SecretLength {
		t.Errorf("id length = %d, want %d", len(id), SecretLength)
	}

	solution := decrypt(t, priv, encrypted)
	challenge, err := store.Take(id, solution)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if challenge.Intent != IntentNewAccount || challenge.Payload.Username != "alice" {
		t.Errorf("unexpected challenge: %+v", challenge)
	}

	// Replay com a mesma solução
	if _, err := store.Take(id, solution); !errors.Is(err, ErrInvalidChallenge) {
		t.Fatalf("expected ErrInvalidChallenge on replay, got %v", err)
	}
}

func TestChallengeFailedAttemptConsumes(t *testing.T) {
	t.Parallel()
	priv, pub := newTestKey(t)
	key, _ := ParsePublicKey(pub)

	store := NewChallengeStore(60 * time.Second)
	id, encrypted, err := store.Issue(IntentLogin, ChallengePayload{UserID: uuid.New()}, key)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := store.Take(id, "wrong-solution-00000"); !errors.Is(err, ErrChallengeFailed) {
		t.Fatalf("expected ErrChallengeFailed, got %v", err)
	}
	// A solução correta já não serve
	if _, err := store.Take(id, decrypt(t, priv, encrypted)); !errors.Is(err, ErrInvalidChallenge) {
		t.Fatalf("expected ErrInvalidChallenge after failed attempt, got %v", err)
	}
}

func TestChallengeExpiry(t *testing.T) {
	t.Parallel()
	priv, pub := newTestKey(t)
	key, _ := ParsePublicKey(pub)

	now := time.Unix(1_700_000_000, 0)
	store := NewChallengeStore(60 * time.Second)
	store.now = func() time.Time { return now }

	id, encrypted, err := store.Issue(IntentLogin, ChallengePayload{UserID: uuid.New()}, key)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id2, _, err := store.Issue(IntentLogin, ChallengePayload{UserID: uuid.New()}, key)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	now = now.Add(61 * time.Second)
	if _, err := store.Take(id, decrypt(t, priv, encrypted)); !errors.Is(err, ErrInvalidChallenge) {
		t.Fatalf("expected ErrInvalidChallenge after expiry, got %v", err)
	}

	if removed := store.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, err := store.Take(id2, "x"); !errors.Is(err, ErrInvalidChallenge) {
		t.Errorf("expected swept challenge to be gone, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len = %d, want 0", store.Len())
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "not base64!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := ParsePublicKey(in); !errors.Is(err, ErrInvalidPublicKey) {
			t.Errorf("ParsePublicKey(%q) = %v, want ErrInvalidPublicKey", in, err)
		}
	}
}

func TestSessionToken(t *testing.T) {
	t.Parallel()
	svc, err := NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return now }

	userID, sessionID := uuid.New(), uuid.New()
	token, err := svc.NewSessionToken(userID, sessionID, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("NewSessionToken: %v", err)
	}

	claims, err := svc.ParseSessionToken(token)
	if err != nil {
		t.Fatalf("ParseSessionToken: %v", err)
	}
	got, err := claims.UserID()
	if err != nil || got != userID {
		t.Errorf("UserID = %v (%v), want %v", got, err, userID)
	}
	if claims.SessionID != sessionID.String() {
		t.Errorf("SessionID = %q, want %q", claims.SessionID, sessionID)
	}

	// Depois do próximo desafio o token expira
	now = now.Add(2 * time.Hour)
	if _, err := svc.ParseSessionToken(token); err == nil {
		t.Error("expected expired token to be rejected")
	}

	other, _ := NewTokenService("other-secret")
	other.now = svc.now
	if string(other.HashToken(token)) == string(svc.HashToken(token)) {
		t.Error("token hashes must depend on the secret")
	}
	if len(svc.HashToken(token)) != 32 {
		t.Errorf("hash length = %d, want 32", len(svc.HashToken(token)))
	}
}

func TestPasskeyHash(t *testing.T) {
	t.Parallel()
	hash, err := HashPasskey("abcdefghijklmnopqrst")
	if err != nil {
		t.Fatalf("HashPasskey: %v", err)
	}
	if !CheckPasskey("abcdefghijklmnopqrst", hash) {
		t.Error("expected passkey to match")
	}
	if CheckPasskey("abcdefghijklmnopqrsX", hash) {
		t.Error("expected mismatch")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	priv, pub := newTestKey(t)
	key, _ := ParsePublicKey(pub)

	ua := "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"
	browser, device, err := Fingerprint(ua, key)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if browser == nil || decrypt(t, priv, *browser) != "Firefox" {
		t.Errorf("unexpected browser")
	}
	if device == nil || decrypt(t, priv, *device) != "X11" {
		t.Errorf("unexpected device")
	}

	browser, device, err = Fingerprint("", key)
	if err != nil || browser != nil || device != nil {
		t.Errorf("expected empty fingerprint for empty user agent")
	}
}
