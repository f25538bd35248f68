package stream

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed indica assinatura encerrada (desregistrada ou bus fechado)
	ErrClosed = errors.New("assinatura encerrada")
	// ErrOverflow indica que a fila passou do limite configurado
	ErrOverflow = errors.New("fila de eventos cheia")
)

// Subscription é o estado de um stream aberto. Nunca é persistida.
type Subscription struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	SessionID uuid.UUID

	mu         sync.Mutex
	channels   map[uuid.UUID]struct{}
	touched    map[uuid.UUID]struct{} // canais alterados antes do Reconcile
	pending    []Envelope
	maxPending int
	err        error
	notify     chan struct{}
}

// push enfileira o envelope. Chamado com o lock da assinatura.
func (s *Subscription) push(env Envelope) error {
	if s.err != nil {
		return s.err
	}
	if s.maxPending > 0 && len(s.pending) >= s.maxPending {
		s.pending = nil
		s.err = ErrOverflow
		s.wake()
		return s.err
	}
	s.pending = append(s.pending, env)
	s.wake()
	return nil
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Notify sinaliza que há algo a drenar
func (s *Subscription) Notify() <-chan struct{} {
	return s.notify
}

// Drain retira todos os eventos pendentes, em ordem de chegada
func (s *Subscription) Drain() ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	events := s.pending
	s.pending = nil
	return events, nil
}

// HasChannel reporta se o canal está no conjunto visível
func (s *Subscription) HasChannel(channelID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channelID]
	return ok
}

// Reconcile aplica o escopo relido depois do registro. Canais alterados
// por AddChannel/RemoveChannel nesse meio tempo mantêm o estado do bus.
// Só a primeira chamada tem efeito.
func (s *Subscription) Reconcile(fresh []uuid.UUID) (added, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touched == nil {
		return 0, 0
	}
	want := set(fresh)
	for id := range want {
		if _, skip := s.touched[id]; skip {
			continue
		}
		if _, ok := s.channels[id]; !ok {
			s.channels[id] = struct{}{}
			added++
		}
	}
	for id := range s.channels {
		if _, skip := s.touched[id]; skip {
			continue
		}
		if _, ok := want[id]; !ok {
			delete(s.channels, id)
			removed++
		}
	}
	s.touched = nil
	return added, removed
}

// touch marca o canal como alterado pelo bus. Chamado com o lock da assinatura.
func (s *Subscription) touch(channelID uuid.UUID) {
	if s.touched != nil {
		s.touched[channelID] = struct{}{}
	}
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
	s.pending = nil
	s.wake()
}

// Bus é o registro de assinaturas. Lock do registro sempre por fora,
// lock da assinatura sempre por dentro.
type Bus struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]*Subscription
	maxPending int
	now        func() time.Time
	logger     *slog.Logger
}

// NewBus cria o bus. maxPending <= 0 deixa as filas sem limite.
func NewBus(logger *slog.Logger, maxPending int) *Bus {
	return &Bus{
		subs:       make(map[uuid.UUID]*Subscription),
		maxPending: maxPending,
		now:        time.Now,
		logger:     logger,
	}
}

// Subscribe registra uma assinatura com os canais visíveis e os eventos
// de estado atual (chamadas em andamento) já enfileirados
func (b *Bus) Subscribe(userID, sessionID uuid.UUID, channels []uuid.UUID, snapshot []Envelope) *Subscription {
	sub := &Subscription{
		ID:         uuid.New(),
		UserID:     userID,
		SessionID:  sessionID,
		channels:   set(channels),
		touched:    make(map[uuid.UUID]struct{}),
		pending:    append([]Envelope(nil), snapshot...),
		maxPending: b.maxPending,
		notify:     make(chan struct{}, 1),
	}
	if len(sub.pending) > 0 {
		sub.wake()
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	total := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("stream registrado", "subscription", sub.ID, "user", userID, "channels", len(channels), "total", total)
	return sub
}

// Unsubscribe remove a assinatura do registro e descarta a fila
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.ID)
	total := len(b.subs)
	b.mu.Unlock()

	sub.close(ErrClosed)
	b.logger.Debug("stream removido", "subscription", sub.ID, "user", sub.UserID, "total", total)
}

// Emit entrega o evento a toda assinatura que casa com cond. Retorna
// quantas assinaturas receberam.
func (b *Bus) Emit(eventType string, data any, cond Condition) int {
	env := Envelope{Type: eventType, Data: data, Timestamp: b.now().UnixMilli()}

	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	var failed []uuid.UUID
	for id, sub := range b.subs {
		sub.mu.Lock()
		if cond.matches(sub) {
			if err := sub.push(env); err != nil {
				failed = append(failed, id)
			} else {
				delivered++
			}
		}
		sub.mu.Unlock()
	}

	for _, id := range failed {
		delete(b.subs, id)
	}
	if len(failed) > 0 {
		b.logger.Warn("assinaturas removidas durante emit", "event", eventType, "count", len(failed))
	}
	return delivered
}

// AddChannel adiciona o canal aos streams abertos do usuário
func (b *Bus) AddChannel(userID, channelID uuid.UUID) {
	b.forUsers(map[uuid.UUID]struct{}{userID: {}}, func(sub *Subscription) {
		sub.channels[channelID] = struct{}{}
		sub.touch(channelID)
	})
}

// RemoveChannel retira o canal dos streams abertos do usuário
func (b *Bus) RemoveChannel(userID, channelID uuid.UUID) {
	b.RemoveChannelForUsers(channelID, []uuid.UUID{userID})
}

// RemoveChannelForUsers retira o canal dos streams de todos os usuários
func (b *Bus) RemoveChannelForUsers(channelID uuid.UUID, userIDs []uuid.UUID) {
	b.forUsers(set(userIDs), func(sub *Subscription) {
		delete(sub.channels, channelID)
		sub.touch(channelID)
	})
}

func (b *Bus) forUsers(users map[uuid.UUID]struct{}, fn func(*Subscription)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if _, ok := users[sub.UserID]; !ok {
			continue
		}
		sub.mu.Lock()
		fn(sub)
		sub.mu.Unlock()
	}
}

// Len retorna o número de streams registrados
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close encerra todas as assinaturas; as conexões abertas saem do loop
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uuid.UUID]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close(ErrClosed)
	}
	b.logger.Info("bus de eventos fechado", "streams", len(subs))
}
