package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidSession encerra o stream quando a sessão deixou de existir
var ErrInvalidSession = errors.New("sessão inválida")

// State é a fase de vida de uma Connection
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// FrameWriter é o destino dos frames SSE
type FrameWriter interface {
	io.Writer
	Flush() error
}

// SessionChecker confirma periodicamente que a sessão do stream existe
type SessionChecker interface {
	SessionExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Config são os intervalos do loop de entrega
type Config struct {
	FlushInterval        time.Duration
	HeartbeatInterval    time.Duration
	SessionCheckInterval time.Duration
}

// DefaultConfig reproduz os intervalos usuais: flush 100ms, heartbeat 10s,
// verificação de sessão a cada 60s
var DefaultConfig = Config{
	FlushInterval:        100 * time.Millisecond,
	HeartbeatInterval:    10 * time.Second,
	SessionCheckInterval: 60 * time.Second,
}

// Request descreve o stream a abrir
type Request struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
	Channels  []uuid.UUID
	Snapshot  []Envelope

	// Rescope relê os canais do usuário depois do registro, fechando a
	// janela entre a carga de Channels e o Subscribe. Opcional.
	Rescope func(ctx context.Context) ([]uuid.UUID, error)
}

// Connection é o loop de entrega de um cliente
type Connection struct {
	bus      *Bus
	sessions SessionChecker
	cfg      Config
	logger   *slog.Logger
	state    atomic.Int32
}

// NewConnection prepara uma conexão ainda não registrada
func NewConnection(bus *Bus, sessions SessionChecker, cfg Config, logger *slog.Logger) *Connection {
	return &Connection{bus: bus, sessions: sessions, cfg: cfg, logger: logger}
}

// State retorna a fase atual
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// Serve registra a assinatura e entrega eventos até o cliente desconectar
// (ctx cancelado), a sessão deixar de existir, a escrita falhar ou o bus
// fechar. Uma falha terminal manda um frame de erro antes de sair. O
// registro é sempre removido na saída.
func (c *Connection) Serve(ctx context.Context, w FrameWriter, req Request) (err error) {
	c.setState(StateConnecting)
	sub := c.bus.Subscribe(req.UserID, req.SessionID, req.Channels, req.Snapshot)
	logger := c.logger.With("subscription", sub.ID, "user", req.UserID)

	defer func() {
		c.setState(StateClosing)
		c.bus.Unsubscribe(sub)
		c.setState(StateClosed)
		if err != nil {
			logger.Info("stream encerrado", "reason", err)
		}
	}()

	if req.Rescope != nil {
		fresh, err := req.Rescope(ctx)
		if err != nil {
			c.fail(w, ErrorConnection)
			return fmt.Errorf("falha ao reler canais do stream: %w", err)
		}
		if added, removed := sub.Reconcile(fresh); added > 0 || removed > 0 {
			logger.Debug("escopo do stream ajustado", "added", added, "removed", removed)
		}
	} else {
		sub.Reconcile(req.Channels)
	}

	if err := c.send(w, writeHeartbeat); err != nil {
		return err
	}
	c.setState(StateOpen)

	flush := time.NewTicker(c.cfg.FlushInterval)
	defer flush.Stop()
	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	sessionCheck := time.NewTicker(c.cfg.SessionCheckInterval)
	defer sessionCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-sub.Notify():
			if err := c.deliver(w, sub); err != nil {
				return err
			}

		case <-flush.C:
			if err := c.deliver(w, sub); err != nil {
				return err
			}

		case <-heartbeat.C:
			if err := c.send(w, writeHeartbeat); err != nil {
				return err
			}

		case <-sessionCheck.C:
			ok, err := c.sessions.SessionExists(ctx, req.SessionID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.fail(w, ErrorConnection)
				return fmt.Errorf("falha ao verificar sessão: %w", err)
			}
			if !ok {
				c.fail(w, ErrorInvalidSession)
				return ErrInvalidSession
			}
		}
	}
}

func (c *Connection) deliver(w FrameWriter, sub *Subscription) error {
	events, err := sub.Drain()
	switch {
	case errors.Is(err, ErrOverflow):
		c.fail(w, ErrorQueueOverflow)
		return err
	case err != nil:
		c.fail(w, ErrorServerShutdown)
		return err
	case len(events) == 0:
		return nil
	}

	for _, env := range events {
		if err := writeEvent(w, env.Type, env.Data); err != nil {
			c.fail(w, ErrorConnection)
			return err
		}
	}
	return w.Flush()
}

func (c *Connection) send(w FrameWriter, frame func(io.Writer) error) error {
	if err := frame(w); err != nil {
		return err
	}
	return w.Flush()
}

// fail tenta mandar o frame de erro final; a falha aqui é ignorada porque
// a conexão já está sendo encerrada
func (c *Connection) fail(w FrameWriter, message string) {
	if err := writeError(w, message); err == nil {
		_ = w.Flush()
	}
}
