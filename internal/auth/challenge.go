package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidChallenge cobre id desconhecido, já consumido ou expirado
	ErrInvalidChallenge = errors.New("desafio inválido")
	// ErrChallengeFailed indica solução incorreta
	ErrChallengeFailed = errors.New("desafio falhou")
)

// Intent é a ação liberada quando o desafio é resolvido
type Intent int

const (
	IntentNewAccount Intent = iota + 1
	IntentLogin
	IntentResetKeys
	IntentResetPasskey
)

func (i Intent) String() string {
	switch i {
	case IntentNewAccount:
		return "new_account"
	case IntentLogin:
		return "login"
	case IntentResetKeys:
		return "reset_keys"
	case IntentResetPasskey:
		return "reset_passkey"
	default:
		return "unknown"
	}
}

// ChallengePayload carrega o que a intenção precisa depois do solve
type ChallengePayload struct {
	Username  string
	PublicKey string
	UserID    uuid.UUID
}

// Challenge é um desafio resolvido com sucesso
type Challenge struct {
	Intent  Intent
	Payload ChallengePayload
}

type pendingChallenge struct {
	Challenge
	hash    string
	expires time.Time
}

// ChallengeStore guarda os desafios pendentes em memória sob um único lock
type ChallengeStore struct {
	mu      sync.Mutex
	pending map[string]*pendingChallenge
	ttl     time.Duration
	now     func() time.Time
	hashCfg Argon2Config
}

// NewChallengeStore cria o store com o tempo de vida informado
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	return &ChallengeStore{
		pending: make(map[string]*pendingChallenge),
		ttl:     ttl,
		now:     time.Now,
		hashCfg: ChallengeHashConfig,
	}
}

// Issue gera um segredo aleatório, guarda o hash e devolve o id e o
// segredo cifrado para key em base64. Só o dono da chave privada consegue
// ler o segredo.
func (s *ChallengeStore) Issue(intent Intent, payload ChallengePayload, key *rsa.PublicKey) (id, encrypted string, err error) {
	solution, err := RandomString(SecretLength)
	if err != nil {
		return "", "", err
	}
	hash, err := HashSecret(solution, s.hashCfg)
	if err != nil {
		return "", "", fmt.Errorf("falha ao gerar hash do desafio: %w", err)
	}
	encrypted, err = Encrypt(key, []byte(solution))
	if err != nil {
		return "", "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if id, err = RandomString(SecretLength); err != nil {
			return "", "", err
		}
		if _, taken := s.pending[id]; !taken {
			break
		}
	}
	s.pending[id] = &pendingChallenge{
		Challenge: Challenge{Intent: intent, Payload: payload},
		hash:      hash,
		expires:   s.now().Add(s.ttl),
	}
	return id, encrypted, nil
}

// Take consome o desafio e verifica a solução. O desafio sai do store
// antes da verificação, então uma tentativa errada também o invalida.
func (s *ChallengeStore) Take(id, solution string) (*Challenge, error) {
	s.mu.Lock()
	pending, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	now := s.now()
	s.mu.Unlock()

	if !ok || now.After(pending.expires) {
		return nil, ErrInvalidChallenge
	}

	match, err := VerifySecret(solution, pending.hash)
	if err != nil {
		return nil, fmt.Errorf("falha ao verificar desafio: %w", err)
	}
	if !match {
		return nil, ErrChallengeFailed
	}
	return &pending.Challenge, nil
}

// Sweep remove desafios expirados e retorna quantos saíram
func (s *ChallengeStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, pending := range s.pending {
		if now.After(pending.expires) {
			delete(s.pending, id)
			removed++
		}
	}
	return removed
}

// Len retorna o número de desafios pendentes
func (s *ChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
