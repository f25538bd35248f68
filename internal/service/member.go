package service

import (
	"context"
	"log/slog"

	"parley-backend/internal/apperr"
	"parley-backend/internal/models"
	"parley-backend/internal/permission"
	"parley-backend/internal/repository"
	"parley-backend/internal/stream"

	"github.com/google/uuid"
)

// UpdatePermissionsRequest é o corpo do PATCH de membro
type UpdatePermissionsRequest struct {
	Permissions *int64 `json:"permissions" validate:"required"`
}

// MemberService lida com listagem, expulsão e permissões de membros
type MemberService struct {
	store    repository.Store
	notifier *stream.Notifier
	logger   *slog.Logger
}

// NewMemberService cria um novo serviço de membros
func NewMemberService(store repository.Store, notifier *stream.Notifier, logger *slog.Logger) *MemberService {
	return &MemberService{store: store, notifier: notifier, logger: logger}
}

// List retorna uma página de membros. Máscaras só aparecem para quem
// gerencia permissões; em broadcast a lista inteira é restrita.
func (s *MemberService) List(ctx context.Context, userID, channelID uuid.UUID, limit, offset int) ([]*models.MemberView, error) {
	data, err := loadPermissionData(ctx, s.store, userID, channelID, "")
	if err != nil {
		return nil, err
	}
	channel := data.Channel
	actor := data.Actor.Permissions
	if channel.Type == models.ChannelBroadcast &&
		!permission.HasAny(actor, channel.Permissions, permission.ManageMembers, permission.ManagePermissions) {
		return nil, apperr.PermissionDenied("You don't have permission to view members")
	}

	views, err := s.store.ListMemberViews(ctx, channelID, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	showMasks := permission.Has(actor, permission.ManagePermissions, channel.Permissions)
	for _, v := range views {
		if showMasks {
			v.Permissions = permission.Ptr(permission.Effective(v.Permissions, channel.Permissions))
		} else {
			v.Permissions = nil
		}
	}
	return views, nil
}

// Kick remove um membro do canal
func (s *MemberService) Kick(ctx context.Context, userID, channelID uuid.UUID, username string) error {
	data, err := loadPermissionData(ctx, s.store, userID, channelID, username)
	if err != nil {
		return err
	}
	if err := requireTarget(data, true); err != nil {
		return err
	}
	channel := data.Channel
	actor, target := data.Actor.Permissions, data.TargetMember.Permissions

	switch {
	case channel.Type == models.ChannelDM:
		return apperr.Validation("Cannot kick members from DM channels")
	case !permission.Has(actor, permission.ManageMembers, channel.Permissions):
		return apperr.PermissionDenied("Member management privileges required")
	case data.TargetUser.ID == userID:
		return apperr.Validation("Cannot kick yourself")
	case !permission.CanModify(actor, target, channel.Permissions):
		if permission.Has(target, permission.Owner, channel.Permissions) {
			return apperr.PermissionDenied("Cannot kick owners unless you are an owner")
		}
		return apperr.PermissionDenied("Cannot kick admins unless you are an owner")
	}

	removed, err := s.store.RemoveMember(ctx, channelID, data.TargetUser.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !removed {
		return apperr.NotFound("User not found in channel")
	}
	s.logger.Info("membro expulso", "channel", channelID, "target", data.TargetUser.ID, "by", userID)
	s.notifier.MemberLeave(ctx, channel, data.TargetUser.ID, data.TargetUser.Info())
	return nil
}

// UpdatePermissions grava a máscara explícita de um membro. Não-owners só
// atribuem bits que possuem e não mexem em owners ou admins; o último
// owner não consegue tirar o próprio bit de owner.
func (s *MemberService) UpdatePermissions(ctx context.Context, userID, channelID uuid.UUID, username string, req UpdatePermissionsRequest) error {
	if req.Permissions == nil {
		return apperr.Validation("permissions parameter is missing")
	}
	next := permission.Sanitize(*req.Permissions)

	data, err := loadPermissionData(ctx, s.store, userID, channelID, username)
	if err != nil {
		return err
	}
	if err := requireTarget(data, true); err != nil {
		return err
	}
	channel := data.Channel
	actor, target := data.Actor.Permissions, data.TargetMember.Permissions
	targetID := data.TargetUser.ID

	if channel.Type == models.ChannelDM {
		return apperr.Validation("Cannot manage permissions in DM channels")
	}
	if !permission.Has(actor, permission.ManagePermissions, channel.Permissions) {
		return apperr.PermissionDenied("Insufficient permissions")
	}
	if !permission.CanAssign(actor, next, channel.Permissions) {
		return apperr.PermissionDenied("Cannot assign permissions you don't have")
	}

	if targetID == userID {
		if permission.Has(target, permission.Owner, channel.Permissions) && next&permission.Owner == 0 {
			ok, err := s.store.UpdatePermissionsKeepingOwner(ctx, channelID, targetID, next)
			if err != nil {
				return fromStore(err, "User not found in channel")
			}
			if !ok {
				return apperr.PermissionDenied("Cannot remove owner permission as the last owner")
			}
		} else if err := s.store.UpdateMemberPermissions(ctx, channelID, targetID, permission.Ptr(next)); err != nil {
			return fromStore(err, "User not found in channel")
		}
	} else {
		if !permission.CanModify(actor, target, channel.Permissions) {
			if permission.Has(target, permission.Owner, channel.Permissions) {
				return apperr.PermissionDenied("Only owners can modify other owners")
			}
			return apperr.PermissionDenied("Only owners can modify admins")
		}
		if err := s.store.UpdateMemberPermissions(ctx, channelID, targetID, permission.Ptr(next)); err != nil {
			return fromStore(err, "User not found in channel")
		}
	}

	s.logger.Info("permissões alteradas", "channel", channelID, "target", targetID, "by", userID, "mask", next.String())
	s.notifier.MemberPermsChanged(ctx, channel, targetID, data.TargetUser.Username, permission.Ptr(next))
	return nil
}
