package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"parley-backend/internal/apperr"
	"parley-backend/internal/auth"
	"parley-backend/internal/models"
	"parley-backend/internal/permission"
	"parley-backend/internal/repository"
	"parley-backend/internal/stream"

	"github.com/google/uuid"
)

const inviteCodeLength = 12

// CreateChannelRequest cria um canal de grupo ou broadcast
type CreateChannelRequest struct {
	Name        string             `json:"name" validate:"required,min=1,max=50"`
	Type        models.ChannelType `json:"type" validate:"required,oneof=2 3"`
	Permissions *int64             `json:"permissions,omitempty"`
}

// EditChannelRequest altera nome e/ou máscara padrão
type EditChannelRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=50"`
	Permissions *int64  `json:"permissions,omitempty"`
}

// ChannelService lida com o ciclo de vida dos canais
type ChannelService struct {
	store    repository.Store
	notifier *stream.Notifier
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewChannelService cria um novo serviço de canais
func NewChannelService(store repository.Store, notifier *stream.Notifier, opts Options, logger *slog.Logger) *ChannelService {
	return &ChannelService{
		store:    store,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// view monta a visão do canal para o usuário. DMs levam o nome do outro membro.
func (s *ChannelService) view(ctx context.Context, channel *models.Channel, userID uuid.UUID) (*models.ChannelView, error) {
	members, err := s.store.ListMembers(ctx, channel.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	var mask *permission.Mask
	var peerID uuid.UUID
	for _, m := range members {
		if m.UserID == userID {
			mask = m.Permissions
		} else {
			peerID = m.UserID
		}
	}

	named := *channel
	if channel.Type == models.ChannelDM && peerID != uuid.Nil {
		peer, err := s.store.GetUserByID(ctx, peerID)
		if err != nil {
			return nil, fromStore(err, "User not found")
		}
		named.Name = peer.Username
	}
	view := models.NewChannelView(&named, mask, len(members))
	return &view, nil
}

// List retorna os canais do usuário
func (s *ChannelService) List(ctx context.Context, userID uuid.UUID) ([]*models.ChannelView, error) {
	channels, err := s.store.ListUserChannels(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	views := make([]*models.ChannelView, 0, len(channels))
	for _, channel := range channels {
		view, err := s.view(ctx, channel, userID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// ChannelIDs lista os ids dos canais do usuário
func (s *ChannelService) ChannelIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	channels, err := s.store.ListUserChannels(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	ids := make([]uuid.UUID, 0, len(channels))
	for _, c := range channels {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// StreamScope retorna os canais visíveis de um stream novo e os eventos
// call_start das chamadas em andamento nesses canais
func (s *ChannelService) StreamScope(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, []stream.Envelope, error) {
	ids, err := s.ChannelIDs(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	calls, err := s.store.ListCallsInChannels(ctx, ids)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	snapshot := make([]stream.Envelope, 0, len(calls))
	for _, call := range calls {
		snapshot = append(snapshot, stream.CallStartEnvelope(call))
	}
	return ids, snapshot, nil
}

func (s *ChannelService) checkChannelLimit(ctx context.Context, userID uuid.UUID, message string) error {
	if s.opts.MaxChannels <= 0 {
		return nil
	}
	count, err := s.store.CountUserChannels(ctx, userID)
	if err != nil {
		return apperr.Internal(err)
	}
	if count >= s.opts.MaxChannels {
		return apperr.PermissionDenied(message)
	}
	return nil
}

// Create cria um canal com o criador como owner
func (s *ChannelService) Create(ctx context.Context, userID uuid.UUID, req CreateChannelRequest) (*models.ChannelView, error) {
	if s.opts.DisableChannelCreation {
		return nil, apperr.PermissionDenied("Channel creation is disabled")
	}
	if req.Type != models.ChannelGroup && req.Type != models.ChannelBroadcast {
		return nil, apperr.Validation("Invalid channel type")
	}
	if err := s.checkChannelLimit(ctx, userID, "You have reached the maximum number of channels"); err != nil {
		return nil, err
	}

	// broadcast nasce somente leitura para quem entra pelo convite
	defaults := permission.DefaultChannel
	if req.Type == models.ChannelBroadcast {
		defaults = 0
	}
	if req.Permissions != nil {
		defaults = permission.SanitizeDefault(*req.Permissions)
	}

	code, err := auth.RandomString(inviteCodeLength)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := s.now()
	channel := &models.Channel{
		ID:          uuid.New(),
		Name:        req.Name,
		Type:        req.Type,
		Permissions: defaults,
		InviteCode:  &code,
		CreatedAt:   now,
	}
	owner := &models.Member{
		ChannelID:   channel.ID,
		UserID:      userID,
		Permissions: permission.Ptr(permission.Owner),
		JoinedAt:    now,
	}
	if err := s.store.CreateChannel(ctx, channel, []*models.Member{owner}); err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("canal criado", "channel", channel.ID, "type", channel.Type, "owner", userID)

	s.notifier.ChannelAdded(ctx, userID, channel, 1)
	view := models.NewChannelView(channel, owner.Permissions, 1)
	return &view, nil
}

// OpenDM abre (ou reaproveita) o canal direto com outro usuário. created
// indica se o canal foi criado agora.
func (s *ChannelService) OpenDM(ctx context.Context, userID uuid.UUID, username string) (view *models.ChannelView, created bool, err error) {
	peer, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, false, fromStore(err, "User not found")
	}
	if peer.ID == userID {
		return nil, false, apperr.Validation("Cannot open a DM with yourself")
	}

	existing, err := s.store.FindDM(ctx, userID, peer.ID)
	if err == nil {
		view, err := s.view(ctx, existing, userID)
		return view, false, err
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, apperr.Internal(err)
	}
	if err := s.checkChannelLimit(ctx, userID, "You have reached the maximum number of channels"); err != nil {
		return nil, false, err
	}
	self, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, false, fromStore(err, "User not found")
	}

	now := s.now()
	channel := &models.Channel{
		ID:          uuid.New(),
		Type:        models.ChannelDM,
		Permissions: permission.DefaultChannel,
		CreatedAt:   now,
	}
	members := []*models.Member{
		{ChannelID: channel.ID, UserID: userID, JoinedAt: now},
		{ChannelID: channel.ID, UserID: peer.ID, JoinedAt: now},
	}
	if err := s.store.CreateChannel(ctx, channel, members); err != nil {
		return nil, false, apperr.Internal(err)
	}

	// cada lado vê o DM com o nome do outro
	forSelf, forPeer := *channel, *channel
	forSelf.Name, forPeer.Name = peer.Username, self.Username
	s.notifier.ChannelAdded(ctx, userID, &forSelf, len(members))
	s.notifier.ChannelAdded(ctx, peer.ID, &forPeer, len(members))

	v := models.NewChannelView(&forSelf, nil, len(members))
	return &v, true, nil
}

// JoinInvite adiciona o usuário ao canal do convite
func (s *ChannelService) JoinInvite(ctx context.Context, userID uuid.UUID, code string) (*models.ChannelView, error) {
	channel, err := s.store.GetChannelByInvite(ctx, code)
	if err != nil {
		return nil, fromStore(err, "Invite not found")
	}

	if _, err := s.store.GetMember(ctx, channel.ID, userID); err == nil {
		return nil, apperr.Conflict("You are already a member of this channel")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Internal(err)
	}
	banned, err := s.store.IsBanned(ctx, channel.ID, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if banned {
		return nil, apperr.PermissionDenied("You are banned from this channel")
	}
	if err := s.checkChannelLimit(ctx, userID, "You have reached the maximum number of channels"); err != nil {
		return nil, err
	}

	// broadcast não tem teto de membros
	if channel.Type != models.ChannelBroadcast && s.opts.MaxMembers > 0 {
		count, err := s.store.CountMembers(ctx, channel.ID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		if count >= s.opts.MaxMembers {
			return nil, apperr.PermissionDenied("Channel has reached maximum member limit")
		}
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fromStore(err, "User not found")
	}
	member := &models.Member{ChannelID: channel.ID, UserID: userID, JoinedAt: s.now()}
	if err := s.store.AddMember(ctx, member); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict("You are already a member of this channel")
		}
		return nil, fromStore(err, "Invite not found")
	}

	count, err := s.store.CountMembers(ctx, channel.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.notifier.MemberJoin(ctx, channel, userID, user.Info(), nil)
	s.notifier.ChannelAdded(ctx, userID, channel, count)

	view := models.NewChannelView(channel, nil, count)
	return &view, nil
}

// Leave tira o usuário do canal. O último owner de um canal com outros
// membros não sai; o último membro leva o canal junto.
func (s *ChannelService) Leave(ctx context.Context, userID, channelID uuid.UUID) error {
	data, err := loadPermissionData(ctx, s.store, userID, channelID, "")
	if err != nil {
		return err
	}
	channel := data.Channel
	if channel.Type == models.ChannelDM {
		return apperr.Validation("Cannot leave DM channels")
	}

	count, err := s.store.CountMembers(ctx, channelID)
	if err != nil {
		return apperr.Internal(err)
	}
	if count <= 1 {
		return s.remove(ctx, channel, []uuid.UUID{userID})
	}

	if permission.Has(data.Actor.Permissions, permission.Owner, channel.Permissions) {
		// limpar o próprio owner é a mesma escrita condicional usada pelo
		// PATCH de permissões, então dois owners saindo juntos não zeram o canal
		ok, err := s.store.UpdatePermissionsKeepingOwner(ctx, channelID, userID, 0)
		if err != nil {
			return fromStore(err, "Channel not found")
		}
		if !ok {
			return apperr.PermissionDenied("Cannot leave as the last owner, transfer ownership first")
		}
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fromStore(err, "User not found")
	}
	if _, err := s.store.RemoveMember(ctx, channelID, userID); err != nil {
		return apperr.Internal(err)
	}
	s.notifier.MemberLeave(ctx, channel, userID, user.Info())
	return nil
}

// Edit altera nome (ManageChannel) e/ou máscara padrão (ManagePermissions)
func (s *ChannelService) Edit(ctx context.Context, userID, channelID uuid.UUID, req EditChannelRequest) (*models.ChannelView, error) {
	if req.Name == nil && req.Permissions == nil {
		return nil, apperr.Validation("No valid parameters to update")
	}
	data, err := loadPermissionData(ctx, s.store, userID, channelID, "")
	if err != nil {
		return nil, err
	}
	channel := data.Channel
	actor := data.Actor.Permissions
	if channel.Type == models.ChannelDM {
		return nil, apperr.Validation("Cannot edit DM channels")
	}

	updated := *channel
	if req.Name != nil {
		if !permission.Has(actor, permission.ManageChannel, channel.Permissions) {
			return nil, apperr.PermissionDenied("Channel management privileges required")
		}
		updated.Name = *req.Name
	}
	if req.Permissions != nil {
		if !permission.Has(actor, permission.ManagePermissions, channel.Permissions) {
			return nil, apperr.PermissionDenied("Insufficient permissions")
		}
		next := permission.SanitizeDefault(*req.Permissions)
		if !permission.CanAssign(actor, next, channel.Permissions) {
			return nil, apperr.PermissionDenied("Cannot assign permissions you don't have")
		}
		updated.Permissions = next
	}

	if err := s.store.UpdateChannel(ctx, &updated); err != nil {
		return nil, fromStore(err, "Channel not found")
	}
	s.notifier.ChannelEdited(ctx, &updated)
	return s.view(ctx, &updated, userID)
}

// Delete apaga o canal. Grupos e broadcasts exigem Owner; num DM qualquer
// um dos dois pode apagar.
func (s *ChannelService) Delete(ctx context.Context, userID, channelID uuid.UUID) error {
	data, err := loadPermissionData(ctx, s.store, userID, channelID, "")
	if err != nil {
		return err
	}
	channel := data.Channel
	if channel.Type != models.ChannelDM && !permission.Has(data.Actor.Permissions, permission.Owner, channel.Permissions) {
		return apperr.PermissionDenied("Only owners can delete the channel")
	}

	members, err := s.store.ListMembers(ctx, channelID)
	if err != nil {
		return apperr.Internal(err)
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	return s.remove(ctx, channel, ids)
}

// remove apaga o canal e avisa os membros lidos antes da remoção
func (s *ChannelService) remove(ctx context.Context, channel *models.Channel, memberIDs []uuid.UUID) error {
	if err := s.store.DeleteChannel(ctx, channel.ID); err != nil {
		return fromStore(err, "Channel not found")
	}
	s.logger.Info("canal removido", "channel", channel.ID, "members", len(memberIDs))
	s.notifier.ChannelDeleted(channel.ID, memberIDs)
	return nil
}
