package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"parley-backend/internal/apperr"
	"parley-backend/internal/models"
	"parley-backend/internal/permission"
	"parley-backend/internal/repository"
	"parley-backend/internal/stream"

	"github.com/google/uuid"
)

const maxBanReason = 100

// BanRequest é o corpo opcional do POST de banimento
type BanRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// BanService lida com banimentos
type BanService struct {
	store    repository.Store
	notifier *stream.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewBanService cria um novo serviço de banimentos
func NewBanService(store repository.Store, notifier *stream.Notifier, logger *slog.Logger) *BanService {
	return &BanService{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// authorize aplica as checagens comuns às três operações
func (s *BanService) authorize(ctx context.Context, userID, channelID uuid.UUID, username string) (*models.PermissionData, error) {
	data, err := loadPermissionData(ctx, s.store, userID, channelID, username)
	if err != nil {
		return nil, err
	}
	if username != "" {
		if err := requireTarget(data, false); err != nil {
			return nil, err
		}
	}
	if data.Channel.Type == models.ChannelDM {
		return nil, apperr.Validation("Cannot manage bans for DM channels")
	}
	if !permission.Has(data.Actor.Permissions, permission.ManageMembers, data.Channel.Permissions) {
		return nil, apperr.PermissionDenied("Member management privileges required")
	}
	return data, nil
}

// List retorna uma página de banimentos, do mais recente ao mais antigo
func (s *BanService) List(ctx context.Context, userID, channelID uuid.UUID, limit, offset int) ([]*models.Ban, error) {
	if _, err := s.authorize(ctx, userID, channelID, ""); err != nil {
		return nil, err
	}
	bans, err := s.store.ListBans(ctx, channelID, limit, offset)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return bans, nil
}

// Ban bane o usuário. Se ele for membro, sai do canal antes.
func (s *BanService) Ban(ctx context.Context, userID, channelID uuid.UUID, username string, req BanRequest) error {
	data, err := s.authorize(ctx, userID, channelID, username)
	if err != nil {
		return err
	}
	channel := data.Channel
	targetID := data.TargetUser.ID
	if targetID == userID {
		return apperr.Validation("Cannot ban yourself")
	}
	if data.ExistingBan {
		return apperr.Conflict("User is already banned")
	}

	if data.TargetMember != nil {
		actor, target := data.Actor.Permissions, data.TargetMember.Permissions
		if permission.Has(target, permission.Owner, channel.Permissions) {
			return apperr.PermissionDenied("Cannot ban owners")
		}
		if !permission.CanModify(actor, target, channel.Permissions) {
			return apperr.PermissionDenied("Cannot ban admins unless you are an owner")
		}
	}

	var reason *string
	if req.Reason != nil {
		r := strings.TrimSpace(*req.Reason)
		if len([]rune(r)) > maxBanReason {
			r = string([]rune(r)[:maxBanReason])
		}
		if r != "" {
			reason = &r
		}
	}

	ban := &models.Ban{
		ChannelID: channelID,
		UserID:    targetID,
		Username:  data.TargetUser.Username,
		BannedBy:  userID,
		Reason:    reason,
		BannedAt:  s.now(),
	}
	if err := s.store.CreateBan(ctx, ban); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperr.Conflict("User is already banned")
		}
		return apperr.Internal(err)
	}

	if data.TargetMember != nil {
		removed, err := s.store.RemoveMember(ctx, channelID, targetID)
		if err != nil {
			return apperr.Internal(err)
		}
		if removed {
			s.notifier.MemberLeave(ctx, channel, targetID, data.TargetUser.Info())
		}
	}
	s.logger.Info("usuário banido", "channel", channelID, "target", targetID, "by", userID)
	return nil
}

// Unban remove o banimento
func (s *BanService) Unban(ctx context.Context, userID, channelID uuid.UUID, username string) error {
	data, err := s.authorize(ctx, userID, channelID, username)
	if err != nil {
		return err
	}
	if !data.ExistingBan {
		return apperr.NotFound("User is not banned")
	}
	deleted, err := s.store.DeleteBan(ctx, channelID, data.TargetUser.ID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !deleted {
		return apperr.NotFound("User is not banned")
	}
	return nil
}
