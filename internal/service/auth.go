package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"log/slog"
	"time"

	"parley-backend/internal/apperr"
	"parley-backend/internal/auth"
	"parley-backend/internal/models"
	"parley-backend/internal/repository"

	"github.com/google/uuid"
)

// SignupRequest inicia a criação de conta
type SignupRequest struct {
	Username  string `json:"username" validate:"required,username"`
	PublicKey string `json:"public" validate:"required"`
}

// LoginRequest inicia um login com passkey
type LoginRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=20"`
	Passkey   string `json:"passkey" validate:"required,len=20"`
	PublicKey string `json:"public" validate:"required"`
}

// PublicKeyRequest é usado por reset-keys (chave nova) e reset-passkey
// (chave atual)
type PublicKeyRequest struct {
	PublicKey string `json:"public" validate:"required"`
}

// SolveRequest resolve um desafio pendente
type SolveRequest struct {
	ID       string `json:"id" validate:"required,len=20"`
	Solution string `json:"solve" validate:"required,len=20"`
}

// ChallengeResponse é devolvido por signup, login e resets
type ChallengeResponse struct {
	ID        string `json:"id"`
	Challenge string `json:"challenge"`
}

// SolveResult traz o token de sessão e, quando gerado, o passkey novo
type SolveResult struct {
	Session string `json:"session,omitempty"`
	Passkey string `json:"passkey,omitempty"`
}

// inviteJoiner é o recorte do ChannelService usado no auto-join do convite
// da instância
type inviteJoiner interface {
	JoinInvite(ctx context.Context, userID uuid.UUID, code string) (*models.ChannelView, error)
}

// AuthService lida com o protocolo de desafio e a emissão de sessões
type AuthService struct {
	store      repository.Store
	challenges *auth.ChallengeStore
	tokens     *auth.TokenService
	invites    inviteJoiner
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// NewAuthService cria um novo serviço de autenticação
func NewAuthService(store repository.Store, challenges *auth.ChallengeStore, tokens *auth.TokenService, invites inviteJoiner, opts Options, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:      store,
		challenges: challenges,
		tokens:     tokens,
		invites:    invites,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

func parseKey(encoded string) (*rsa.PublicKey, error) {
	key, err := auth.ParsePublicKey(encoded)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Invalid public key", err)
	}
	return key, nil
}

func (s *AuthService) issue(intent auth.Intent, payload auth.ChallengePayload, key *rsa.PublicKey) (*ChallengeResponse, error) {
	id, encrypted, err := s.challenges.Issue(intent, payload, key)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &ChallengeResponse{ID: id, Challenge: encrypted}, nil
}

// UsernameAvailable falha com 400 se o nome já estiver em uso
func (s *AuthService) UsernameAvailable(ctx context.Context, username string) error {
	exists, err := s.store.UsernameExists(ctx, username)
	if err != nil {
		return apperr.Internal(err)
	}
	if exists {
		return apperr.Validation("Username is in use")
	}
	return nil
}

// BeginSignup emite o desafio de criação de conta. O usuário só é gravado
// no solve.
func (s *AuthService) BeginSignup(ctx context.Context, req SignupRequest) (*ChallengeResponse, error) {
	if err := s.UsernameAvailable(ctx, req.Username); err != nil {
		return nil, err
	}
	key, err := parseKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	return s.issue(auth.IntentNewAccount, auth.ChallengePayload{Username: req.Username, PublicKey: req.PublicKey}, key)
}

// BeginLogin confere passkey e chave pública antes de emitir o desafio.
// Usuário inexistente e passkey errado têm a mesma resposta.
func (s *AuthService) BeginLogin(ctx context.Context, req LoginRequest) (*ChallengeResponse, error) {
	user, err := s.store.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Auth("Invalid login details")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !auth.CheckPasskey(req.Passkey, user.PasskeyHash) {
		return nil, apperr.Auth("Invalid login details")
	}
	if req.PublicKey != user.PublicKey {
		return nil, apperr.Auth("Public key doesn't match")
	}
	key, err := parseKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	return s.issue(auth.IntentLogin, auth.ChallengePayload{UserID: user.ID}, key)
}

// BeginResetKeys emite o desafio sob a chave nova; o solve troca a chave e
// derruba todas as sessões
func (s *AuthService) BeginResetKeys(ctx context.Context, userID uuid.UUID, req PublicKeyRequest) (*ChallengeResponse, error) {
	key, err := parseKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	return s.issue(auth.IntentResetKeys, auth.ChallengePayload{UserID: userID, PublicKey: req.PublicKey}, key)
}

// BeginResetPasskey exige a chave atual do usuário
func (s *AuthService) BeginResetPasskey(ctx context.Context, userID uuid.UUID, req PublicKeyRequest) (*ChallengeResponse, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fromStore(err, "User not found")
	}
	if req.PublicKey != user.PublicKey {
		return nil, apperr.Auth("Public key doesn't match")
	}
	key, err := parseKey(req.PublicKey)
	if err != nil {
		return nil, err
	}
	return s.issue(auth.IntentResetPasskey, auth.ChallengePayload{UserID: userID}, key)
}

// Solve consome o desafio e executa a intenção registrada nele
func (s *AuthService) Solve(ctx context.Context, req SolveRequest, userAgent string) (*SolveResult, error) {
	challenge, err := s.challenges.Take(req.ID, req.Solution)
	switch {
	case errors.Is(err, auth.ErrInvalidChallenge):
		return nil, apperr.Auth("Invalid challenge")
	case errors.Is(err, auth.ErrChallengeFailed):
		return nil, apperr.Auth("Challenge failed")
	case err != nil:
		return nil, apperr.Internal(err)
	}

	logger := s.logger.With("intent", challenge.Intent.String())
	switch challenge.Intent {
	case auth.IntentNewAccount:
		return s.solveNewAccount(ctx, challenge.Payload, userAgent, logger)
	case auth.IntentLogin:
		return s.solveLogin(ctx, challenge.Payload, userAgent)
	case auth.IntentResetKeys:
		return s.solveResetKeys(ctx, challenge.Payload, userAgent, logger)
	case auth.IntentResetPasskey:
		return s.solveResetPasskey(ctx, challenge.Payload, logger)
	default:
		return nil, apperr.Internal(errors.New("intenção de desafio desconhecida"))
	}
}

func newPasskey() (plain, hash string, err error) {
	plain, err = auth.RandomString(auth.SecretLength)
	if err != nil {
		return "", "", err
	}
	hash, err = auth.HashPasskey(plain)
	if err != nil {
		return "", "", err
	}
	return plain, hash, nil
}

func (s *AuthService) solveNewAccount(ctx context.Context, payload auth.ChallengePayload, userAgent string, logger *slog.Logger) (*SolveResult, error) {
	key, err := parseKey(payload.PublicKey)
	if err != nil {
		return nil, err
	}
	passkey, hash, err := newPasskey()
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user := &models.User{
		ID:          uuid.New(),
		Username:    payload.Username,
		PasskeyHash: hash,
		PublicKey:   payload.PublicKey,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		// o nome pode ter sido tomado entre o signup e o solve
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict("Username is in use")
		}
		return nil, apperr.Internal(err)
	}
	logger.Info("conta criada", "user", user.ID, "username", user.Username)

	if s.opts.InstanceInvite != "" && s.invites != nil {
		if _, err := s.invites.JoinInvite(ctx, user.ID, s.opts.InstanceInvite); err != nil {
			logger.Error("falha ao entrar no convite da instância", "user", user.ID, "error", err)
		}
	}

	token, err := s.createSession(ctx, user.ID, key, userAgent)
	if err != nil {
		return nil, err
	}
	return &SolveResult{Session: token, Passkey: passkey}, nil
}

func (s *AuthService) solveLogin(ctx context.Context, payload auth.ChallengePayload, userAgent string) (*SolveResult, error) {
	user, err := s.store.GetUserByID(ctx, payload.UserID)
	if err != nil {
		return nil, fromStore(err, "User not found")
	}
	key, err := parseKey(user.PublicKey)
	if err != nil {
		return nil, err
	}
	token, err := s.createSession(ctx, user.ID, key, userAgent)
	if err != nil {
		return nil, err
	}
	return &SolveResult{Session: token}, nil
}

func (s *AuthService) solveResetKeys(ctx context.Context, payload auth.ChallengePayload, userAgent string, logger *slog.Logger) (*SolveResult, error) {
	key, err := parseKey(payload.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateUserPublicKey(ctx, payload.UserID, payload.PublicKey); err != nil {
		return nil, fromStore(err, "User not found")
	}
	removed, err := s.store.DeleteUserSessions(ctx, payload.UserID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	logger.Info("chaves redefinidas", "user", payload.UserID, "sessions_removed", removed)

	token, err := s.createSession(ctx, payload.UserID, key, userAgent)
	if err != nil {
		return nil, err
	}
	return &SolveResult{Session: token}, nil
}

func (s *AuthService) solveResetPasskey(ctx context.Context, payload auth.ChallengePayload, logger *slog.Logger) (*SolveResult, error) {
	passkey, hash, err := newPasskey()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.store.UpdateUserPasskey(ctx, payload.UserID, hash); err != nil {
		return nil, fromStore(err, "User not found")
	}
	logger.Info("passkey redefinido", "user", payload.UserID)
	return &SolveResult{Passkey: passkey}, nil
}

// createSession grava a sessão e devolve o token. O token expira junto com
// o próximo desafio; só o hash com chave fica no banco.
func (s *AuthService) createSession(ctx context.Context, userID uuid.UUID, key *rsa.PublicKey, userAgent string) (string, error) {
	now := s.now()
	session := &models.Session{
		ID:            uuid.New(),
		UserID:        userID,
		LoggedInAt:    now,
		NextChallenge: now.Add(s.opts.SessionRechallenge),
		CreatedAt:     now,
	}

	token, err := s.tokens.NewSessionToken(userID, session.ID, session.NextChallenge)
	if err != nil {
		return "", apperr.Internal(err)
	}
	session.TokenHash = s.tokens.HashToken(token)

	browser, device, err := auth.Fingerprint(userAgent, key)
	if err != nil {
		s.logger.Warn("falha ao cifrar fingerprint da sessão", "user", userID, "error", err)
	} else {
		session.Browser, session.Device = browser, device
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return "", apperr.Internal(err)
	}
	return token, nil
}

// Authenticate valida o token e devolve a sessão correspondente
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	claims, err := s.tokens.ParseSessionToken(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAuth, "Invalid session", err)
	}
	session, err := s.store.GetSessionByTokenHash(ctx, s.tokens.HashToken(token))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Auth("Invalid session")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}

	userID, err := claims.UserID()
	if err != nil || userID != session.UserID || claims.SessionID != session.ID.String() {
		return nil, apperr.Auth("Invalid session")
	}
	return session, nil
}
