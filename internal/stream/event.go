// Package stream entrega eventos de domínio aos clientes conectados via
// Server-Sent Events. O Bus mantém o registro de assinaturas e faz o
// fan-out; cada Connection drena a fila da sua assinatura.
package stream

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Tipos de evento
const (
	EventMessageSent        = "message_sent"
	EventMessageEdited      = "message_edited"
	EventMessageDeleted     = "message_deleted"
	EventChannelAdded       = "channel_added"
	EventChannelEdited      = "channel_edited"
	EventChannelDeleted     = "channel_deleted"
	EventMemberJoin         = "member_join"
	EventMemberLeave        = "member_leave"
	EventMemberPermsChanged = "member_perms_changed"
	EventMemberInfoChanged  = "member_info_changed"
	EventCallStart          = "call_start"
	EventCallJoin           = "call_join"
	EventCallLeft           = "call_left"
	EventCallSignal         = "call_signal"
)

// Mensagens dos frames de erro terminais
const (
	ErrorInvalidSession = "Invalid_session"
	ErrorConnection     = "connection_error"
	ErrorQueueOverflow  = "queue_overflow"
	ErrorServerShutdown = "server_shutdown"
)

// Envelope é um evento já roteado para uma assinatura
type Envelope struct {
	Type      string
	Data      any
	Timestamp int64 // unix ms
}

// Condition decide quais assinaturas recebem um evento. Os filtros
// presentes são combinados com E lógico.
type Condition struct {
	channels map[uuid.UUID]struct{}
	users    map[uuid.UUID]struct{}
	exclude  uuid.UUID
}

func set(ids []uuid.UUID) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// ToChannels casa assinaturas cujo conjunto visível contém algum dos canais
func ToChannels(ids ...uuid.UUID) Condition {
	return Condition{channels: set(ids)}
}

// ToUsers casa somente os usuários listados. Lista vazia não casa ninguém.
func ToUsers(ids ...uuid.UUID) Condition {
	return Condition{users: set(ids)}
}

// Except remove um usuário do público do evento
func (c Condition) Except(userID uuid.UUID) Condition {
	c.exclude = userID
	return c
}

// matches deve ser chamado com o lock da assinatura
func (c Condition) matches(sub *Subscription) bool {
	if c.exclude != uuid.Nil && sub.UserID == c.exclude {
		return false
	}
	if c.users != nil {
		if _, ok := c.users[sub.UserID]; !ok {
			return false
		}
	}
	if c.channels != nil {
		for id := range c.channels {
			if _, ok := sub.channels[id]; ok {
				return true
			}
		}
		return false
	}
	return true
}

// writeEvent escreve um frame SSE com nome de evento e payload JSON
func writeEvent(w io.Writer, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("falha ao serializar evento %s: %w", eventType, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, payload)
	return err
}

func writeHeartbeat(w io.Writer) error {
	_, err := io.WriteString(w, ": heartbeat\n\n")
	return err
}

func writeError(w io.Writer, message string) error {
	return writeEvent(w, "error", map[string]string{"error": message})
}
