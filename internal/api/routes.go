package api

import (
	"net/http"

	"parley-backend/internal/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes configura e retorna o roteador Chi
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middlewares globais
	r.Use(middleware.RequestID)
	r.Use(h.realIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300, // Tempo de cache da preflight
	}))

	r.Route("/v1", func(r chi.Router) {
		// Endpoints públicos (sem autenticação)
		r.With(h.limit(ratelimit.Info)).Get("/", h.handleInfo)
		r.With(h.limit(ratelimit.UsernameCheck)).Get("/username_check", h.handleUsernameCheck)
		r.With(h.limit(ratelimit.Signup)).Post("/signup", h.handleSignup)
		r.With(h.limit(ratelimit.Login)).Post("/login", h.handleLogin)
		r.With(h.limit(ratelimit.Solve)).Post("/solve", h.handleSolve)

		// Endpoints protegidos (requerem autenticação)
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.With(h.limit(ratelimit.ResetKeys)).Post("/reset-keys", h.handleResetKeys)
			r.With(h.limit(ratelimit.ResetPasskey)).Post("/reset-passkey", h.handleResetPasskey)

			r.With(h.limit(ratelimit.Me)).Get("/me", h.handleMe)
			r.With(h.limit(ratelimit.EditMe)).Patch("/me", h.handleEditMe)
			r.With(h.limit(ratelimit.Logout)).Delete("/me", h.handleLogout)
			r.With(h.limit(ratelimit.SessionsList)).Get("/me/sessions", h.handleSessions)
			r.With(h.limit(ratelimit.SessionsDelete)).Delete("/me/sessions", h.handleRevokeSessions)
			r.With(h.limit(ratelimit.SessionDelete)).Delete("/me/session/{sessionID}", h.handleRevokeSession)
			r.With(h.limit(ratelimit.Blocks)).Get("/me/blocks", h.handleListBlocks)
			r.With(h.limit(ratelimit.Block)).Post("/me/block/{username}", h.handleBlock)
			r.With(h.limit(ratelimit.Unblock)).Delete("/me/block/{username}", h.handleUnblock)

			r.With(h.limit(ratelimit.Stream)).Get("/stream", h.handleStream)

			r.With(h.limit(ratelimit.ChannelsList)).Get("/channels", h.handleListChannels)
			r.With(h.limit(ratelimit.ChannelCreate)).Post("/channels", h.handleCreateChannel)
			r.With(h.limit(ratelimit.DMOpen)).Post("/dm/{username}", h.handleOpenDM)
			r.With(h.limit(ratelimit.InviteJoin)).Post("/invite/{code}", h.handleJoinInvite)

			r.Route("/channel/{channelID}", func(r chi.Router) {
				r.With(h.limit(ratelimit.ChannelEdit)).Patch("/", h.handleEditChannel)
				r.With(h.limit(ratelimit.ChannelDelete)).Delete("/", h.handleDeleteChannel)
				r.With(h.limit(ratelimit.ChannelLeave)).Delete("/leave", h.handleLeaveChannel)

				r.With(h.limit(ratelimit.Members)).Get("/members", h.handleListMembers)
				r.With(h.limit(ratelimit.MemberPatch)).Patch("/member/{username}", h.handleUpdateMember)
				r.With(h.limit(ratelimit.MemberKick)).Delete("/member/{username}", h.handleKickMember)

				r.With(h.limit(ratelimit.Bans)).Get("/bans", h.handleListBans)
				r.With(h.limit(ratelimit.Ban)).Post("/bans/{username}", h.handleBan)
				r.With(h.limit(ratelimit.Unban)).Delete("/bans/{username}", h.handleUnban)

				r.With(h.limit(ratelimit.MessagesList)).Get("/messages", h.handleListMessages)
				r.With(h.limit(ratelimit.MessageSend)).Post("/messages", h.handleSendMessage)
				r.With(h.limit(ratelimit.MessageEdit)).Patch("/message/{messageID}", h.handleEditMessage)
				r.With(h.limit(ratelimit.MessageDelete)).Delete("/message/{messageID}", h.handleDeleteMessage)

				r.With(h.limit(ratelimit.CallStatus)).Get("/call", h.handleCallStatus)
				r.With(h.limit(ratelimit.CallJoin)).Post("/call", h.handleJoinCall)
				r.With(h.limit(ratelimit.CallLeave)).Delete("/call", h.handleLeaveCall)
				r.With(h.limit(ratelimit.CallSignal)).Post("/call/signal", h.handleCallSignal)
			})
		})
	})

	return r
}
