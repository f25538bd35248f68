package models

import (
	"time"

	"parley-backend/internal/permission"

	"github.com/google/uuid"
)

// User representa um usuário no sistema
type User struct {
	ID          uuid.UUID `json:"id"`
	Username    string    `json:"username"`
	PasskeyHash string    `json:"-"` // Nunca expor em JSON
	PublicKey   string    `json:"public"`
	DisplayName *string   `json:"display"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Session representa uma sessão autenticada. O token em si nunca é
// armazenado, somente o hash com chave.
type Session struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"-"`
	TokenHash     []byte    `json:"-"`
	Browser       *string   `json:"browser"` // cifrado para a chave pública do usuário
	Device        *string   `json:"device"`  // cifrado para a chave pública do usuário
	LoggedInAt    time.Time `json:"loggedInAt"`
	NextChallenge time.Time `json:"nextChallenge"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ChannelType identifica o tipo de canal
type ChannelType int

const (
	ChannelDM        ChannelType = 1
	ChannelGroup     ChannelType = 2
	ChannelBroadcast ChannelType = 3
)

func (t ChannelType) Valid() bool {
	return t == ChannelDM || t == ChannelGroup || t == ChannelBroadcast
}

// Channel representa um canal (DM, grupo ou broadcast)
type Channel struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Type        ChannelType     `json:"type"`
	Permissions permission.Mask `json:"permissions"` // máscara padrão
	InviteCode  *string         `json:"inviteCode,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Member representa a participação de um usuário em um canal.
// Permissions nulo significa herdar a máscara padrão do canal.
type Member struct {
	ChannelID   uuid.UUID        `json:"channelId"`
	UserID      uuid.UUID        `json:"userId"`
	Permissions *permission.Mask `json:"permissions"`
	JoinedAt    time.Time        `json:"joinedAt"`
}

// MemberView junta dados de usuário e de participação para listagens
type MemberView struct {
	UserID      uuid.UUID        `json:"id"`
	Username    string           `json:"username"`
	DisplayName *string          `json:"display"`
	PublicKey   string           `json:"public,omitempty"`
	Permissions *permission.Mask `json:"permissions,omitempty"`
	JoinedAt    time.Time        `json:"joinedAt"`
}

// ChannelView é o canal do ponto de vista de um membro. Permissions traz
// a máscara efetiva do membro; a máscara padrão e o convite só aparecem
// para quem pode gerenciá-los.
type ChannelView struct {
	ID                 uuid.UUID        `json:"id"`
	Name               string           `json:"name"`
	Type               ChannelType      `json:"type"`
	Permissions        permission.Mask  `json:"permissions"`
	ChannelPermissions *permission.Mask `json:"channelPermissions,omitempty"`
	InviteCode         *string          `json:"inviteCode,omitempty"`
	MemberCount        int              `json:"memberCount"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// NewChannelView monta a visão de channel para um membro com a máscara informada
func NewChannelView(channel *Channel, memberMask *permission.Mask, memberCount int) ChannelView {
	view := ChannelView{
		ID:          channel.ID,
		Name:        channel.Name,
		Type:        channel.Type,
		Permissions: permission.Effective(memberMask, channel.Permissions),
		MemberCount: memberCount,
		CreatedAt:   channel.CreatedAt,
	}
	if permission.Has(memberMask, permission.ManagePermissions, channel.Permissions) {
		def := channel.Permissions
		view.ChannelPermissions = &def
	}
	if permission.Has(memberMask, permission.ManageMembers, channel.Permissions) {
		view.InviteCode = channel.InviteCode
	}
	return view
}

// UserInfo é o recorte público de um usuário usado em eventos
type UserInfo struct {
	Username    string  `json:"username"`
	DisplayName *string `json:"display"`
}

// Info retorna o recorte público do usuário
func (u *User) Info() UserInfo {
	return UserInfo{Username: u.Username, DisplayName: u.DisplayName}
}

// Ban representa o banimento de um usuário de um canal
type Ban struct {
	ChannelID uuid.UUID `json:"-"`
	UserID    uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	BannedBy  uuid.UUID `json:"bannedBy"`
	Reason    *string   `json:"reason"`
	BannedAt  time.Time `json:"bannedAt"`
}

// Block registra que BlockerID bloqueou BlockedID
type Block struct {
	BlockerID   uuid.UUID `json:"-"`
	BlockedID   uuid.UUID `json:"-"`
	Username    string    `json:"username"`
	DisplayName *string   `json:"display"`
	BlockedAt   time.Time `json:"blockedAt"`
}

// Message representa uma mensagem. O conteúdo é opaco para o servidor.
type Message struct {
	ID              uuid.UUID  `json:"id"`
	ChannelID       uuid.UUID  `json:"channelId"`
	UserID          *uuid.UUID `json:"user"`
	Seq             int64      `json:"seq"`
	Content         string     `json:"content"`
	Signature       *string    `json:"signature"`
	SignedTimestamp *int64     `json:"signedTimestamp"`
	CreatedAt       time.Time  `json:"createdAt"`
	EditedAt        *time.Time `json:"editedAt"`
}

// Redacted retorna uma cópia sem autoria nem assinatura, usada para
// leitores de canais broadcast sem privilégios
func (m Message) Redacted() Message {
	m.UserID = nil
	m.Signature = nil
	m.SignedTimestamp = nil
	return m
}

// Call representa uma chamada ativa em um canal
type Call struct {
	ChannelID         uuid.UUID `json:"channelId"`
	StartedBy         uuid.UUID `json:"-"`
	StartedByUsername string    `json:"startedBy"`
	StartedAt         time.Time `json:"startedAt"`
}

// CallParticipant representa a presença de um usuário em uma chamada
type CallParticipant struct {
	ChannelID   uuid.UUID  `json:"-"`
	UserID      uuid.UUID  `json:"-"`
	Username    string     `json:"username"`
	DisplayName *string    `json:"display"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LeftAt      *time.Time `json:"leftAt,omitempty"`
}

// PermissionData é o resultado do fetch em lote usado nas checagens de
// autorização: membro ator, usuário/membro alvo e canal numa só ida ao banco
type PermissionData struct {
	Channel      *Channel
	Actor        *Member
	TargetUser   *User
	TargetMember *Member
	ExistingBan  bool
}
