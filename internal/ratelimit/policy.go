// Package ratelimit implementa o controle de admissão por janela de tempo,
// avaliado por origem (IP) e, quando há sessão, também por usuário.
package ratelimit

import (
	"context"
	"time"
)

// Policy define o limite de uma operação
type Policy struct {
	Name      string
	Limit     int // requisições por origem dentro da janela
	Window    time.Duration
	UserLimit int // requisições por usuário dentro da janela
}

// Limiter decide se uma requisição pode prosseguir. userID vazio avalia
// apenas a origem. Uma requisição rejeitada não consome cota.
type Limiter interface {
	Allow(ctx context.Context, policy Policy, origin, userID string) (bool, error)
	// Prune remove chaves vencidas e retorna quantas saíram
	Prune(ctx context.Context) (int, error)
}

func policy(name string, limit int, window time.Duration, userLimit int) Policy {
	return Policy{Name: name, Limit: limit, Window: window, UserLimit: userLimit}
}

// Políticas por rota
var (
	Info          = policy("info", 60, time.Minute, 30)
	UsernameCheck = policy("username_check", 50, time.Minute, 20)
	Signup        = policy("signup", 15, 5*time.Minute, 5)
	Login         = policy("login", 30, 5*time.Minute, 15)
	Solve         = policy("solve", 20, time.Minute, 10)
	ResetKeys     = policy("reset_keys", 10, 10*time.Minute, 5)
	ResetPasskey  = policy("reset_passkey", 10, 10*time.Minute, 5)

	Me             = policy("me", 20, time.Minute, 10)
	EditMe         = policy("edit_me", 20, time.Minute, 10)
	Logout         = policy("logout", 10, time.Minute, 5)
	SessionsList   = policy("sessions_get", 50, time.Minute, 25)
	SessionsDelete = policy("sessions_delete", 5, time.Minute, 3)
	SessionDelete  = policy("session_delete", 20, time.Minute, 10)

	Stream = policy("stream", 10, time.Minute, 5)

	ChannelsList  = policy("channels_get", 100, time.Minute, 30)
	ChannelCreate = policy("channel_create", 10, time.Minute, 5)
	DMOpen        = policy("dm_open", 30, time.Minute, 15)
	InviteJoin    = policy("invite_join", 20, time.Minute, 10)
	ChannelEdit   = policy("channel_edit", 30, time.Minute, 15)
	ChannelDelete = policy("channel_delete", 10, time.Minute, 5)
	ChannelLeave  = policy("channel_leave", 20, time.Minute, 10)

	Members     = policy("members", 100, time.Minute, 30)
	MemberKick  = policy("member_kick", 50, time.Minute, 20)
	MemberPatch = policy("member_patch", 50, time.Minute, 20)

	Bans  = policy("bans", 100, time.Minute, 30)
	Ban   = policy("ban", 50, time.Minute, 20)
	Unban = policy("unban", 50, time.Minute, 20)

	Blocks  = policy("blocks", 100, time.Minute, 30)
	Block   = policy("block", 50, time.Minute, 20)
	Unblock = policy("unblock", 50, time.Minute, 20)

	MessagesList  = policy("messages_get", 120, time.Minute, 60)
	MessageSend   = policy("message_send", 120, time.Minute, 60)
	MessageEdit   = policy("message_edit", 60, time.Minute, 30)
	MessageDelete = policy("message_delete", 60, time.Minute, 30)

	CallJoin   = policy("call_join", 30, time.Minute, 15)
	CallLeave  = policy("call_leave", 30, time.Minute, 15)
	CallSignal = policy("call_signal", 500, time.Minute, 250)
	CallStatus = policy("call_status", 50, time.Minute, 25)
)
