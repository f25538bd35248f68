package api

import (
	"net/http"

	"parley-backend/internal/service"

	"github.com/go-chi/chi/v5"
)

// === Handlers de Autenticação ===

func (h *Handler) respondChallenge(w http.ResponseWriter, challenge *service.ChallengeResponse) {
	h.respondOK(w, http.StatusOK, map[string]any{
		"id":        challenge.ID,
		"challenge": challenge.Challenge,
	})
}

// handleUsernameCheck (GET /v1/username_check?username=)
func (h *Handler) handleUsernameCheck(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Username string `json:"username" validate:"required,username"`
	}{Username: r.URL.Query().Get("username")}
	if !h.check(w, req) {
		return
	}
	if err := h.svc.Auth.UsernameAvailable(r.Context(), req.Username); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// handleSignup (POST /v1/signup)
func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req service.SignupRequest
	if !h.decode(w, r, &req) {
		return
	}
	challenge, err := h.svc.Auth.BeginSignup(r.Context(), req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondChallenge(w, challenge)
}

// handleLogin (POST /v1/login)
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	challenge, err := h.svc.Auth.BeginLogin(r.Context(), req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondChallenge(w, challenge)
}

// handleSolve (POST /v1/solve)
func (h *Handler) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req service.SolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.svc.Auth.Solve(r.Context(), req, r.UserAgent())
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	fields := map[string]any{}
	if result.Session != "" {
		fields["session"] = result.Session
	}
	if result.Passkey != "" {
		fields["passkey"] = result.Passkey
	}
	h.respondOK(w, http.StatusOK, fields)
}

// handleResetKeys (POST /v1/reset-keys)
func (h *Handler) handleResetKeys(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	var req service.PublicKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	challenge, err := h.svc.Auth.BeginResetKeys(r.Context(), rc.UserID, req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondChallenge(w, challenge)
}

// handleResetPasskey (POST /v1/reset-passkey)
func (h *Handler) handleResetPasskey(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	var req service.PublicKeyRequest
	if !h.decode(w, r, &req) {
		return
	}
	challenge, err := h.svc.Auth.BeginResetPasskey(r.Context(), rc.UserID, req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondChallenge(w, challenge)
}

// === Handlers de Perfil e Sessões ===

// handleMe (GET /v1/me)
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	user, err := h.svc.Users.Me(r.Context(), rc.UserID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"display":  user.DisplayName,
	})
}

// handleEditMe (PATCH /v1/me)
func (h *Handler) handleEditMe(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	var req service.ProfileUpdate
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.svc.Users.UpdateProfile(r.Context(), rc.UserID, req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"user": user.Info()})
}

// handleLogout (DELETE /v1/me)
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	if err := h.svc.Users.Logout(r.Context(), rc.UserID, rc.SessionID); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// handleSessions (GET /v1/me/sessions)
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	sessions, err := h.svc.Users.ListSessions(r.Context(), rc.UserID, rc.SessionID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleRevokeSessions (DELETE /v1/me/sessions)
func (h *Handler) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	deleted, err := h.svc.Users.RevokeAllSessions(r.Context(), rc.UserID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"deletedSessions": deleted})
}

// handleRevokeSession (DELETE /v1/me/session/{sessionID})
func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	sessionID, ok := h.uuidParam(w, r, "sessionID", "Session not found")
	if !ok {
		return
	}
	if err := h.svc.Users.RevokeSession(r.Context(), rc.UserID, sessionID); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// === Handlers de Bloqueio ===

// handleListBlocks (GET /v1/me/blocks)
func (h *Handler) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	blocks, err := h.svc.Users.ListBlocks(r.Context(), rc.UserID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"blocks": blocks})
}

// handleBlock (POST /v1/me/block/{username})
func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	if err := h.svc.Users.Block(r.Context(), rc.UserID, chi.URLParam(r, "username")); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// handleUnblock (DELETE /v1/me/block/{username})
func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	if err := h.svc.Users.Unblock(r.Context(), rc.UserID, chi.URLParam(r, "username")); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}
