package service

import (
	"context"
	"log/slog"

	"parley-backend/internal/stream"

	"github.com/google/uuid"
)

// StreamService abre conexões SSE com o escopo atual do usuário
type StreamService struct {
	channels *ChannelService
	bus      *stream.Bus
	sessions stream.SessionChecker
	cfg      stream.Config
	logger   *slog.Logger
}

// NewStreamService cria um novo serviço de streams
func NewStreamService(channels *ChannelService, bus *stream.Bus, sessions stream.SessionChecker, cfg stream.Config, logger *slog.Logger) *StreamService {
	return &StreamService{
		channels: channels,
		bus:      bus,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// Prepare carrega o escopo do stream. Roda antes dos headers SSE para que
// falhas ainda virem uma resposta JSON comum.
func (s *StreamService) Prepare(ctx context.Context, userID, sessionID uuid.UUID) (*stream.Request, error) {
	channels, snapshot, err := s.channels.StreamScope(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &stream.Request{
		UserID:    userID,
		SessionID: sessionID,
		Channels:  channels,
		Snapshot:  snapshot,
		Rescope: func(ctx context.Context) ([]uuid.UUID, error) {
			return s.channels.ChannelIDs(ctx, userID)
		},
	}, nil
}

// Serve bloqueia entregando eventos até o cliente sair ou o stream falhar
func (s *StreamService) Serve(ctx context.Context, w stream.FrameWriter, req *stream.Request) error {
	conn := stream.NewConnection(s.bus, s.sessions, s.cfg, s.logger)
	return conn.Serve(ctx, w, *req)
}
