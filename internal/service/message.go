package service

import (
	"context"
	"log/slog"
	"time"

	"parley-backend/internal/apperr"
	"parley-backend/internal/models"
	"parley-backend/internal/permission"
	"parley-backend/internal/repository"
	"parley-backend/internal/stream"

	"github.com/google/uuid"
)

// MaxMessageLength limita o conteúdo opaco de uma mensagem
const MaxMessageLength = 4000

// MessageRequest é o corpo de envio e de edição
type MessageRequest struct {
	Content         string  `json:"content" validate:"required,max=4000"`
	Signature       *string `json:"signature,omitempty" validate:"omitempty,max=1024"`
	SignedTimestamp *int64  `json:"signedTimestamp,omitempty"`
}

// MessageService lida com mensagens
type MessageService struct {
	store    repository.Store
	notifier *stream.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewMessageService cria um novo serviço de mensagens
func NewMessageService(store repository.Store, notifier *stream.Notifier, logger *slog.Logger) *MessageService {
	return &MessageService{store: store, notifier: notifier, logger: logger, now: time.Now}
}

// canSeeAuthors reporta se o membro vê autoria e assinatura num broadcast
func canSeeAuthors(member *permission.Mask, channel *models.Channel) bool {
	return permission.HasAny(member, channel.Permissions,
		permission.SendMessages, permission.ManageMembers, permission.ManagePermissions)
}

// List retorna até limit mensagens anteriores a beforeSeq, da mais nova
// para a mais antiga
func (s *MessageService) List(ctx context.Context, userID, channelID uuid.UUID, beforeSeq int64, limit int) ([]*models.Message, error) {
	data, err := loadPermissionData(ctx, s.store, userID, channelID, "")
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, channelID, beforeSeq, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if data.Channel.Type == models.ChannelBroadcast && !canSeeAuthors(data.Actor.Permissions, data.Channel) {
		for i, m := range messages {
			redacted := m.Redacted()
			messages[i] = &redacted
		}
	}
	return messages, nil
}

// Send grava e publica uma mensagem nova
func (s *MessageService) Send(ctx context.Context, userID, channelID uuid.UUID, req MessageRequest) (*models.Message, error) {
	data, err := loadPermissionData(ctx, s.store, userID, channelID, "")
	if err != nil {
		return nil, err
	}
	if !permission.Has(data.Actor.Permissions, permission.SendMessages, data.Channel.Permissions) {
		return nil, apperr.PermissionDenied("You don't have permission to send messages")
	}

	author := userID
	message := &models.Message{
		ID:              uuid.New(),
		ChannelID:       channelID,
		UserID:          &author,
		Content:         req.Content,
		Signature:       req.Signature,
		SignedTimestamp: req.SignedTimestamp,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateMessage(ctx, message); err != nil {
		return nil, fromStore(err, "Channel not found")
	}
	s.notifier.MessageSent(ctx, data.Channel, *message)
	return message, nil
}

// Edit troca o conteúdo de uma mensagem do próprio autor
func (s *MessageService) Edit(ctx context.Context, userID, channelID, messageID uuid.UUID, req MessageRequest) (*models.Message, error) {
	data, err := loadPermissionData(ctx, s.store, userID, channelID, "")
	if err != nil {
		return nil, err
	}
	message, err := s.store.GetMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, fromStore(err, "Message not found")
	}
	if message.UserID == nil || *message.UserID != userID {
		return nil, apperr.PermissionDenied("You can only edit your own messages")
	}
	if !permission.Has(data.Actor.Permissions, permission.SendMessages, data.Channel.Permissions) {
		return nil, apperr.PermissionDenied("You don't have permission to send messages")
	}

	now := s.now()
	message.Content = req.Content
	message.Signature = req.Signature
	message.SignedTimestamp = req.SignedTimestamp
	message.EditedAt = &now
	if err := s.store.UpdateMessage(ctx, message); err != nil {
		return nil, fromStore(err, "Message not found")
	}
	s.notifier.MessageEdited(ctx, data.Channel, *message)
	return message, nil
}

// Delete remove uma mensagem do próprio autor ou, com ManageMessages, de
// qualquer membro
func (s *MessageService) Delete(ctx context.Context, userID, channelID, messageID uuid.UUID) error {
	data, err := loadPermissionData(ctx, s.store, userID, channelID, "")
	if err != nil {
		return err
	}
	message, err := s.store.GetMessage(ctx, channelID, messageID)
	if err != nil {
		return fromStore(err, "Message not found")
	}
	own := message.UserID != nil && *message.UserID == userID
	if !own && !permission.Has(data.Actor.Permissions, permission.ManageMessages, data.Channel.Permissions) {
		return apperr.PermissionDenied("Insufficient permissions")
	}

	deleted, err := s.store.DeleteMessage(ctx, channelID, messageID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !deleted {
		return apperr.NotFound("Message not found")
	}
	s.notifier.MessageDeleted(channelID, messageID)
	return nil
}
