package service

import (
	"context"
	"log/slog"
	"time"

	"parley-backend/internal/auth"
	"parley-backend/internal/ratelimit"
)

// Janitor limpa periodicamente os desafios expirados e as janelas velhas
// do rate limiter
type Janitor struct {
	challenges *auth.ChallengeStore
	limiter    ratelimit.Limiter
	interval   time.Duration
	logger     *slog.Logger
}

// NewJanitor cria o janitor com o intervalo informado
func NewJanitor(challenges *auth.ChallengeStore, limiter ratelimit.Limiter, interval time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		challenges: challenges,
		limiter:    limiter,
		interval:   interval,
		logger:     logger,
	}
}

// Run roda até ctx ser cancelado
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep faz uma passada de limpeza
func (j *Janitor) Sweep(ctx context.Context) {
	challenges := j.challenges.Sweep()
	windows, err := j.limiter.Prune(ctx)
	if err != nil {
		j.logger.Warn("falha ao limpar rate limiter", "error", err)
	}
	if challenges > 0 || windows > 0 {
		j.logger.Debug("limpeza concluída", "challenges", challenges, "windows", windows)
	}
}
