package repository

import (
	"context"
	"errors"
	"time"

	"parley-backend/internal/models"
	"parley-backend/internal/permission"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indica que a linha buscada não existe
	ErrNotFound = errors.New("registro não encontrado")
	// ErrConflict indica violação de unicidade
	ErrConflict = errors.New("registro duplicado")
)

// UserStore define a interface para operações de usuário no DB
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UpdateUserPublicKey(ctx context.Context, id uuid.UUID, publicKey string) error
	UpdateUserPasskey(ctx context.Context, id uuid.UUID, passkeyHash string) error
	UpdateUserDisplayName(ctx context.Context, id uuid.UUID, displayName *string) error
}

// SessionStore define a interface para sessões
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*models.Session, error)
	SessionExists(ctx context.Context, id uuid.UUID) (bool, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.Session, error)
	DeleteSession(ctx context.Context, userID, id uuid.UUID) (bool, error)
	DeleteUserSessions(ctx context.Context, userID uuid.UUID) (int64, error)
}

// ChannelStore define a interface para canais
type ChannelStore interface {
	// CreateChannel grava o canal e os membros iniciais atomicamente
	CreateChannel(ctx context.Context, channel *models.Channel, members []*models.Member) error
	GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	GetChannelByInvite(ctx context.Context, code string) (*models.Channel, error)
	FindDM(ctx context.Context, a, b uuid.UUID) (*models.Channel, error)
	UpdateChannel(ctx context.Context, channel *models.Channel) error
	DeleteChannel(ctx context.Context, id uuid.UUID) error
	ListUserChannels(ctx context.Context, userID uuid.UUID) ([]*models.Channel, error)
	CountUserChannels(ctx context.Context, userID uuid.UUID) (int, error)
}

// MemberStore define a interface para participação em canais
type MemberStore interface {
	AddMember(ctx context.Context, member *models.Member) error
	GetMember(ctx context.Context, channelID, userID uuid.UUID) (*models.Member, error)
	ListMembers(ctx context.Context, channelID uuid.UUID) ([]*models.Member, error)
	ListMemberViews(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]*models.MemberView, error)
	CountMembers(ctx context.Context, channelID uuid.UUID) (int, error)
	CountOwners(ctx context.Context, channelID uuid.UUID) (int, error)
	RemoveMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
	UpdateMemberPermissions(ctx context.Context, channelID, userID uuid.UUID, mask *permission.Mask) error

	// UpdatePermissionsKeepingOwner grava mask para o membro somente se,
	// depois da escrita, o canal continuar com ao menos um owner ou tiver
	// um único membro. Retorna false quando a condição impede a escrita.
	UpdatePermissionsKeepingOwner(ctx context.Context, channelID, userID uuid.UUID, mask permission.Mask) (bool, error)

	// GetPermissionData busca membro ator, alvo e canal numa só ida ao banco.
	// targetUsername vazio omite o alvo.
	GetPermissionData(ctx context.Context, actorID, channelID uuid.UUID, targetUsername string) (*models.PermissionData, error)
}

// BanStore define a interface para banimentos
type BanStore interface {
	CreateBan(ctx context.Context, ban *models.Ban) error
	DeleteBan(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
	ListBans(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]*models.Ban, error)
	IsBanned(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
}

// BlockStore define a interface para bloqueios entre usuários
type BlockStore interface {
	// CreateBlock retorna ErrConflict se o bloqueio já existir
	CreateBlock(ctx context.Context, block *models.Block) error
	DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
	// ListBlocks retorna os bloqueios feitos por blockerID, do mais recente ao mais antigo
	ListBlocks(ctx context.Context, blockerID uuid.UUID) ([]*models.Block, error)
	IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
}

// MessageStore define a interface para mensagens
type MessageStore interface {
	// CreateMessage atribui o próximo seq do canal e grava a mensagem
	CreateMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, channelID, id uuid.UUID) (*models.Message, error)
	UpdateMessage(ctx context.Context, message *models.Message) error
	DeleteMessage(ctx context.Context, channelID, id uuid.UUID) (bool, error)
	// ListMessages retorna até limit mensagens com seq < beforeSeq
	// (beforeSeq <= 0 significa a partir da mais recente), em ordem decrescente
	ListMessages(ctx context.Context, channelID uuid.UUID, beforeSeq int64, limit int) ([]*models.Message, error)
}

// CallStore define a interface para chamadas
type CallStore interface {
	GetCall(ctx context.Context, channelID uuid.UUID) (*models.Call, error)
	CreateCall(ctx context.Context, call *models.Call) error
	DeleteCall(ctx context.Context, channelID uuid.UUID) error
	GetParticipant(ctx context.Context, channelID, userID uuid.UUID) (*models.CallParticipant, error)
	JoinCall(ctx context.Context, channelID, userID uuid.UUID, at time.Time) error
	LeaveCall(ctx context.Context, channelID, userID uuid.UUID, at time.Time) error
	ListActiveParticipants(ctx context.Context, channelID uuid.UUID) ([]*models.CallParticipant, error)
	ListUserActiveCalls(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	ListCallsInChannels(ctx context.Context, channelIDs []uuid.UUID) ([]*models.Call, error)
}

// Store é uma interface agregada para todas as operações de store
// Facilita a injeção de dependência
type Store interface {
	UserStore
	SessionStore
	ChannelStore
	MemberStore
	BanStore
	BlockStore
	MessageStore
	CallStore
}
