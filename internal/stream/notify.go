package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"parley-backend/internal/models"
	"parley-backend/internal/permission"

	"github.com/google/uuid"
)

// Directory é o recorte do storage que os emissores consultam para
// decidir a audiência de cada evento
type Directory interface {
	GetMember(ctx context.Context, channelID, userID uuid.UUID) (*models.Member, error)
	ListMembers(ctx context.Context, channelID uuid.UUID) ([]*models.Member, error)
	ListUserChannels(ctx context.Context, userID uuid.UUID) ([]*models.Channel, error)
}

// Payloads dos eventos

type MessageEvent struct {
	ChannelID uuid.UUID      `json:"channelId"`
	Message   models.Message `json:"message"`
}

type MessageDeletedEvent struct {
	ChannelID uuid.UUID `json:"channelId"`
	MessageID uuid.UUID `json:"messageId"`
}

type ChannelEvent struct {
	ChannelID uuid.UUID          `json:"channelId"`
	Channel   models.ChannelView `json:"channel"`
}

type ChannelDeletedEvent struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type MemberEvent struct {
	ChannelID   uuid.UUID        `json:"channelId"`
	User        models.UserInfo  `json:"user"`
	Permissions *permission.Mask `json:"permissions,omitempty"`
}

type MemberPermsEvent struct {
	ChannelID   uuid.UUID       `json:"channelId"`
	Username    string          `json:"username"`
	Permissions permission.Mask `json:"permissions"`
}

type MemberInfoEvent struct {
	User     models.UserInfo `json:"user"`
	Channels []uuid.UUID     `json:"channels"`
}

type CallStartEvent struct {
	ChannelID uuid.UUID `json:"channelId"`
	StartedBy string    `json:"startedBy"`
	Timestamp int64     `json:"timestamp"`
}

type CallMemberEvent struct {
	ChannelID uuid.UUID       `json:"channelId"`
	User      models.UserInfo `json:"user"`
}

type CallSignalEvent struct {
	ChannelID uuid.UUID       `json:"channelId"`
	FromUser  string          `json:"fromUser"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// Notifier traduz mutações de domínio em eventos com a audiência certa
type Notifier struct {
	bus    *Bus
	dir    Directory
	logger *slog.Logger
}

func NewNotifier(bus *Bus, dir Directory, logger *slog.Logger) *Notifier {
	return &Notifier{bus: bus, dir: dir, logger: logger}
}

// Bus expõe o bus subjacente
func (n *Notifier) Bus() *Bus { return n.bus }

// splitMembers separa os membros em quem satisfaz pred e o restante
func splitMembers(members []*models.Member, pred func(*models.Member) bool) (match, rest []uuid.UUID) {
	for _, m := range members {
		if pred(m) {
			match = append(match, m.UserID)
		} else {
			rest = append(rest, m.UserID)
		}
	}
	return match, rest
}

func (n *Notifier) members(ctx context.Context, channelID uuid.UUID) ([]*models.Member, bool) {
	members, err := n.dir.ListMembers(ctx, channelID)
	if err != nil {
		n.logger.Error("falha ao listar membros para evento", "channel", channelID, "error", err)
		return nil, false
	}
	return members, true
}

func (n *Notifier) emitTo(eventType string, data any, users []uuid.UUID) {
	if len(users) > 0 {
		n.bus.Emit(eventType, data, ToUsers(users...))
	}
}

// MessageSent publica uma mensagem nova
func (n *Notifier) MessageSent(ctx context.Context, channel *models.Channel, message models.Message) {
	n.message(ctx, EventMessageSent, channel, message)
}

// MessageEdited publica uma mensagem editada
func (n *Notifier) MessageEdited(ctx context.Context, channel *models.Channel, message models.Message) {
	n.message(ctx, EventMessageEdited, channel, message)
}

// message aplica a divisão de canais broadcast: quem pode escrever ou
// gerenciar membros/permissões vê autoria e assinatura, os demais não
func (n *Notifier) message(ctx context.Context, eventType string, channel *models.Channel, message models.Message) {
	if channel.Type != models.ChannelBroadcast {
		n.bus.Emit(eventType, MessageEvent{ChannelID: channel.ID, Message: message}, ToChannels(channel.ID))
		return
	}

	members, ok := n.members(ctx, channel.ID)
	if !ok {
		return
	}
	full, redacted := splitMembers(members, func(m *models.Member) bool {
		return permission.HasAny(m.Permissions, channel.Permissions,
			permission.SendMessages, permission.ManageMembers, permission.ManagePermissions)
	})
	n.emitTo(eventType, MessageEvent{ChannelID: channel.ID, Message: message}, full)
	n.emitTo(eventType, MessageEvent{ChannelID: channel.ID, Message: message.Redacted()}, redacted)
}

// MessageDeleted avisa a remoção de uma mensagem
func (n *Notifier) MessageDeleted(channelID, messageID uuid.UUID) {
	n.bus.Emit(EventMessageDeleted, MessageDeletedEvent{ChannelID: channelID, MessageID: messageID}, ToChannels(channelID))
}

// ChannelAdded inclui o canal no escopo dos streams do usuário e manda a
// visão do canal só para ele
func (n *Notifier) ChannelAdded(ctx context.Context, userID uuid.UUID, channel *models.Channel, memberCount int) {
	n.bus.AddChannel(userID, channel.ID)

	var mask *permission.Mask
	member, err := n.dir.GetMember(ctx, channel.ID, userID)
	if err != nil {
		n.logger.Warn("membro não encontrado para channel_added", "channel", channel.ID, "user", userID, "error", err)
	} else {
		mask = member.Permissions
	}
	view := models.NewChannelView(channel, mask, memberCount)
	n.emitTo(EventChannelAdded, ChannelEvent{ChannelID: channel.ID, Channel: view}, []uuid.UUID{userID})
}

// ChannelEdited manda a cada membro a visão com as próprias permissões efetivas
func (n *Notifier) ChannelEdited(ctx context.Context, channel *models.Channel) {
	members, ok := n.members(ctx, channel.ID)
	if !ok {
		return
	}
	for _, m := range members {
		view := models.NewChannelView(channel, m.Permissions, len(members))
		n.bus.Emit(EventChannelEdited, ChannelEvent{ChannelID: channel.ID, Channel: view}, ToUsers(m.UserID))
	}
}

// ChannelDeleted avisa os ex-membros e tira o canal dos seus streams. Os
// membros precisam ser lidos antes da remoção.
func (n *Notifier) ChannelDeleted(channelID uuid.UUID, memberIDs []uuid.UUID) {
	n.emitTo(EventChannelDeleted, ChannelDeletedEvent{ChannelID: channelID}, memberIDs)
	n.bus.RemoveChannelForUsers(channelID, memberIDs)
}

func managesPermissions(channel *models.Channel) func(*models.Member) bool {
	return func(m *models.Member) bool {
		return permission.Has(m.Permissions, permission.ManagePermissions, channel.Permissions)
	}
}

// MemberJoin inclui o canal no escopo do novo membro e avisa o canal.
// Só quem gerencia permissões recebe a máscara do novo membro.
func (n *Notifier) MemberJoin(ctx context.Context, channel *models.Channel, userID uuid.UUID, user models.UserInfo, mask *permission.Mask) {
	n.bus.AddChannel(userID, channel.ID)

	members, ok := n.members(ctx, channel.ID)
	if !ok {
		return
	}
	effective := permission.Effective(mask, channel.Permissions)
	managers, others := splitMembers(members, managesPermissions(channel))
	n.emitTo(EventMemberJoin, MemberEvent{ChannelID: channel.ID, User: user, Permissions: &effective}, managers)
	n.emitTo(EventMemberJoin, MemberEvent{ChannelID: channel.ID, User: user}, others)
}

// MemberLeave avisa a saída e depois tira o canal do escopo do ex-membro.
// Em canais broadcast só gerentes de permissão e o próprio sujeito recebem.
func (n *Notifier) MemberLeave(ctx context.Context, channel *models.Channel, userID uuid.UUID, user models.UserInfo) {
	event := MemberEvent{ChannelID: channel.ID, User: user}
	if channel.Type == models.ChannelBroadcast {
		members, ok := n.members(ctx, channel.ID)
		if ok {
			managers, _ := splitMembers(members, managesPermissions(channel))
			n.emitTo(EventMemberLeave, event, appendUnique(managers, userID))
		}
	} else {
		n.bus.Emit(EventMemberLeave, event, ToChannels(channel.ID))
	}
	n.bus.RemoveChannel(userID, channel.ID)
}

// MemberPermsChanged avisa gerentes de permissão e o próprio alvo
func (n *Notifier) MemberPermsChanged(ctx context.Context, channel *models.Channel, userID uuid.UUID, username string, mask *permission.Mask) {
	members, ok := n.members(ctx, channel.ID)
	if !ok {
		return
	}
	managers, _ := splitMembers(members, managesPermissions(channel))
	n.emitTo(EventMemberPermsChanged, MemberPermsEvent{
		ChannelID:   channel.ID,
		Username:    username,
		Permissions: permission.Effective(mask, channel.Permissions),
	}, appendUnique(managers, userID))
}

// MemberInfoChanged avisa uma única vez todos os canais do usuário. Se
// todos forem broadcast, só os gerentes de permissão desses canais recebem.
func (n *Notifier) MemberInfoChanged(ctx context.Context, userID uuid.UUID, user models.UserInfo) {
	channels, err := n.dir.ListUserChannels(ctx, userID)
	if err != nil {
		n.logger.Error("falha ao listar canais para member_info_changed", "user", userID, "error", err)
		return
	}
	if len(channels) == 0 {
		return
	}

	ids := make([]uuid.UUID, 0, len(channels))
	allBroadcast := true
	for _, c := range channels {
		ids = append(ids, c.ID)
		if c.Type != models.ChannelBroadcast {
			allBroadcast = false
		}
	}
	event := MemberInfoEvent{User: user, Channels: ids}

	if !allBroadcast {
		n.bus.Emit(EventMemberInfoChanged, event, ToChannels(ids...))
		return
	}

	var recipients []uuid.UUID
	for _, c := range channels {
		members, ok := n.members(ctx, c.ID)
		if !ok {
			continue
		}
		managers, _ := splitMembers(members, managesPermissions(c))
		for _, id := range managers {
			recipients = appendUnique(recipients, id)
		}
	}
	n.emitTo(EventMemberInfoChanged, event, recipients)
}

// CallStartEnvelope monta o evento call_start, também usado no snapshot
// de chamadas ativas ao abrir um stream
func CallStartEnvelope(call *models.Call) Envelope {
	return Envelope{
		Type: EventCallStart,
		Data: CallStartEvent{
			ChannelID: call.ChannelID,
			StartedBy: call.StartedByUsername,
			Timestamp: call.StartedAt.UnixMilli(),
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

func (n *Notifier) CallStart(call *models.Call) {
	env := CallStartEnvelope(call)
	n.bus.Emit(env.Type, env.Data, ToChannels(call.ChannelID))
}

func (n *Notifier) CallJoin(channelID uuid.UUID, user models.UserInfo) {
	n.bus.Emit(EventCallJoin, CallMemberEvent{ChannelID: channelID, User: user}, ToChannels(channelID))
}

func (n *Notifier) CallLeft(channelID uuid.UUID, user models.UserInfo) {
	n.bus.Emit(EventCallLeft, CallMemberEvent{ChannelID: channelID, User: user}, ToChannels(channelID))
}

// CallSignal repassa a sinalização WebRTC para o outro participante
func (n *Notifier) CallSignal(channelID, fromUserID uuid.UUID, fromUsername, signalType string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("payload de sinalização não é JSON válido")
	}
	n.bus.Emit(EventCallSignal, CallSignalEvent{
		ChannelID: channelID,
		FromUser:  fromUsername,
		Type:      signalType,
		Data:      data,
	}, ToChannels(channelID).Except(fromUserID))
	return nil
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
