// Package service concentra as regras de negócio. Cada serviço recebe o
// store, o notifier de eventos e um logger; os erros devolvidos são
// *apperr.Error prontos para a camada HTTP.
package service

import (
	"context"
	"errors"
	"time"

	"parley-backend/internal/apperr"
	"parley-backend/internal/models"
	"parley-backend/internal/repository"

	"github.com/google/uuid"
)

// Options são os limites de instância compartilhados pelos serviços
type Options struct {
	MaxChannels            int
	MaxMembers             int
	CallsEnabled           bool
	InstanceInvite         string
	DisableChannelCreation bool
	SessionRechallenge     time.Duration
}

// DefaultOptions espelha os valores padrão da configuração
var DefaultOptions = Options{
	MaxChannels:        150,
	MaxMembers:         100,
	CallsEnabled:       true,
	SessionRechallenge: time.Hour,
}

// Paginação padrão das listagens
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// fromStore traduz erros do repositório. notFound é a mensagem pública
// usada quando a linha não existe.
func fromStore(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(notFound)
	case errors.Is(err, repository.ErrConflict):
		return apperr.Wrap(apperr.KindConflict, "Conflict", err)
	default:
		return apperr.Internal(err)
	}
}

// loadPermissionData busca canal, ator e alvo numa só ida ao banco. Canal
// inexistente e ator fora do canal dão a mesma resposta para não vazar
// a existência do canal.
func loadPermissionData(ctx context.Context, store repository.MemberStore, actorID, channelID uuid.UUID, target string) (*models.PermissionData, error) {
	data, err := store.GetPermissionData(ctx, actorID, channelID, target)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if data.Channel == nil || data.Actor == nil {
		return nil, apperr.NotFound("Channel not found")
	}
	return data, nil
}

// requireTarget valida o alvo de ações de moderação
func requireTarget(data *models.PermissionData, mustBeMember bool) error {
	if data.TargetUser == nil {
		return apperr.NotFound("User not found")
	}
	if mustBeMember && data.TargetMember == nil {
		return apperr.NotFound("User not found in channel")
	}
	return nil
}
