package api

import (
	"net/http"
	"strconv"

	"parley-backend/internal/service"

	"github.com/go-chi/chi/v5"
)

// === Handlers de Canais ===

// handleListChannels (GET /v1/channels)
func (h *Handler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channels, err := h.svc.Channels.List(r.Context(), rc.UserID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"channels": channels})
}

// handleCreateChannel (POST /v1/channels)
func (h *Handler) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	var req service.CreateChannelRequest
	if !h.decode(w, r, &req) {
		return
	}
	channel, err := h.svc.Channels.Create(r.Context(), rc.UserID, req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusCreated, map[string]any{"channel": channel})
}

// handleOpenDM (POST /v1/dm/{username})
func (h *Handler) handleOpenDM(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channel, created, err := h.svc.Channels.OpenDM(r.Context(), rc.UserID, chi.URLParam(r, "username"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	h.respondOK(w, code, map[string]any{"channel": channel})
}

// handleJoinInvite (POST /v1/invite/{code})
func (h *Handler) handleJoinInvite(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channel, err := h.svc.Channels.JoinInvite(r.Context(), rc.UserID, chi.URLParam(r, "code"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"channel": channel})
}

// handleEditChannel (PATCH /v1/channel/{channelID})
func (h *Handler) handleEditChannel(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	var req service.EditChannelRequest
	if !h.decode(w, r, &req) {
		return
	}
	channel, err := h.svc.Channels.Edit(r.Context(), rc.UserID, channelID, req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"channel": channel})
}

// handleDeleteChannel (DELETE /v1/channel/{channelID})
func (h *Handler) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	if err := h.svc.Channels.Delete(r.Context(), rc.UserID, channelID); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// handleLeaveChannel (DELETE /v1/channel/{channelID}/leave)
func (h *Handler) handleLeaveChannel(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	if err := h.svc.Channels.Leave(r.Context(), rc.UserID, channelID); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// === Handlers de Membros e Banimentos ===

// handleListMembers (GET /v1/channel/{channelID}/members)
func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	limit, offset, ok := h.pagination(w, r)
	if !ok {
		return
	}
	members, err := h.svc.Members.List(r.Context(), rc.UserID, channelID, limit, offset)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"members": members})
}

// handleUpdateMember (PATCH /v1/channel/{channelID}/member/{username})
func (h *Handler) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	var req service.UpdatePermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.svc.Members.UpdatePermissions(r.Context(), rc.UserID, channelID, chi.URLParam(r, "username"), req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// handleKickMember (DELETE /v1/channel/{channelID}/member/{username})
func (h *Handler) handleKickMember(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	if err := h.svc.Members.Kick(r.Context(), rc.UserID, channelID, chi.URLParam(r, "username")); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// handleListBans (GET /v1/channel/{channelID}/bans)
func (h *Handler) handleListBans(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	limit, offset, ok := h.pagination(w, r)
	if !ok {
		return
	}
	bans, err := h.svc.Bans.List(r.Context(), rc.UserID, channelID, limit, offset)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"bans": bans})
}

// handleBan (POST /v1/channel/{channelID}/bans/{username}); o corpo é opcional
func (h *Handler) handleBan(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	var req service.BanRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	err := h.svc.Bans.Ban(r.Context(), rc.UserID, channelID, chi.URLParam(r, "username"), req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// handleUnban (DELETE /v1/channel/{channelID}/bans/{username})
func (h *Handler) handleUnban(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	if err := h.svc.Bans.Unban(r.Context(), rc.UserID, channelID, chi.URLParam(r, "username")); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// === Handlers de Mensagens ===

// handleListMessages (GET /v1/channel/{channelID}/messages?before=&limit=)
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	q := r.URL.Query()
	var before int64
	if raw := q.Get("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			h.respondWithError(w, http.StatusBadRequest, "Invalid before parameter")
			return
		}
		before = n
	}
	limit := service.DefaultPageSize
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > service.MaxPageSize {
			h.respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = n
	}
	messages, err := h.svc.Messages.List(r.Context(), rc.UserID, channelID, before, limit)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleSendMessage (POST /v1/channel/{channelID}/messages)
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	var req service.MessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	message, err := h.svc.Messages.Send(r.Context(), rc.UserID, channelID, req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusCreated, map[string]any{"message": message})
}

// handleEditMessage (PATCH /v1/channel/{channelID}/message/{messageID})
func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	messageID, ok := h.uuidParam(w, r, "messageID", "Message not found")
	if !ok {
		return
	}
	var req service.MessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	message, err := h.svc.Messages.Edit(r.Context(), rc.UserID, channelID, messageID, req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"message": message})
}

// handleDeleteMessage (DELETE /v1/channel/{channelID}/message/{messageID})
func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	messageID, ok := h.uuidParam(w, r, "messageID", "Message not found")
	if !ok {
		return
	}
	if err := h.svc.Messages.Delete(r.Context(), rc.UserID, channelID, messageID); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// === Handlers de Chamadas ===

// handleCallStatus (GET /v1/channel/{channelID}/call)
func (h *Handler) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	status, err := h.svc.Calls.Status(r.Context(), rc.UserID, channelID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, map[string]any{"call": status})
}

// handleJoinCall (POST /v1/channel/{channelID}/call); 201 quando a chamada começa
func (h *Handler) handleJoinCall(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	result, err := h.svc.Calls.Join(r.Context(), rc.UserID, channelID)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	code := http.StatusOK
	if result.Started {
		code = http.StatusCreated
	}
	h.respondOK(w, code, map[string]any{"started": result.Started, "joined": result.Joined})
}

// handleLeaveCall (DELETE /v1/channel/{channelID}/call)
func (h *Handler) handleLeaveCall(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	if err := h.svc.Calls.Leave(r.Context(), rc.UserID, channelID); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}

// handleCallSignal (POST /v1/channel/{channelID}/call/signal)
func (h *Handler) handleCallSignal(w http.ResponseWriter, r *http.Request) {
	rc, _ := requestContextFrom(r)
	channelID, ok := h.uuidParam(w, r, "channelID", "Channel not found")
	if !ok {
		return
	}
	var req service.SignalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Calls.Signal(r.Context(), rc.UserID, channelID, req); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	h.respondOK(w, http.StatusOK, nil)
}
