package ratelimit

import (
	"context"
	"sync"
	"time"
)

// pruneEvery define de quantas em quantas chamadas o mapa é varrido
const pruneEvery = 1000

type window struct {
	start    time.Time
	count    int
	duration time.Duration
}

// MemoryLimiter guarda as janelas em um mapa sob um único mutex. Serve
// para uma instância; com várias réplicas use o RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	calls   int
	now     func() time.Time
}

// NewMemoryLimiter cria um limiter em memória
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) current(key string, d time.Duration, now time.Time) *window {
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= w.duration {
		w = &window{start: now, duration: d}
		l.windows[key] = w
	}
	return w
}

// Allow verifica origem e usuário juntos e só incrementa se ambos passam
func (l *MemoryLimiter) Allow(ctx context.Context, policy Policy, origin, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.calls++
	if l.calls%pruneEvery == 0 {
		l.pruneLocked(now)
	}

	originWindow := l.current(originKey(policy, origin), policy.Window, now)
	if originWindow.count >= policy.Limit {
		return false, nil
	}

	var userWindow *window
	if userID != "" {
		userWindow = l.current(userKey(policy, userID), policy.Window, now)
		if userWindow.count >= policy.UserLimit {
			return false, nil
		}
	}

	originWindow.count++
	if userWindow != nil {
		userWindow.count++
	}
	return true, nil
}

// Prune remove janelas vencidas
func (l *MemoryLimiter) Prune(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.now()), nil
}

func (l *MemoryLimiter) pruneLocked(now time.Time) int {
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= w.duration {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

func originKey(policy Policy, origin string) string {
	return "rl:" + policy.Name + ":ip:" + origin
}

func userKey(policy Policy, userID string) string {
	return "rl:" + policy.Name + ":user:" + userID
}
