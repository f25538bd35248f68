package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// allowScript verifica todas as chaves antes de incrementar qualquer uma.
// KEYS = origem [, usuário]; ARGV = limite por chave (mesma ordem), janela em ms.
var allowScript = redis.NewScript(`
local window = ARGV[#ARGV]
for i = 1, #KEYS do
  local n = tonumber(redis.call('GET', KEYS[i]) or '0')
  if n >= tonumber(ARGV[i]) then
    return 0
  end
end
for i = 1, #KEYS do
  if redis.call('INCR', KEYS[i]) == 1 then
    redis.call('PEXPIRE', KEYS[i], window)
  end
end
return 1
`)

// RedisLimiter compartilha as janelas entre réplicas. As chaves expiram
// sozinhas com PEXPIRE.
type RedisLimiter struct {
	redis *redis.Client
}

// NewRedisLimiter cria um limiter sobre o cliente informado
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{redis: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, policy Policy, origin, userID string) (bool, error) {
	keys := []string{originKey(policy, origin)}
	args := []interface{}{policy.Limit}
	if userID != "" {
		keys = append(keys, userKey(policy, userID))
		args = append(args, policy.UserLimit)
	}
	args = append(args, policy.Window.Milliseconds())

	allowed, err := allowScript.Run(ctx, l.redis, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("falha ao consultar rate limit: %w", err)
	}
	return allowed == 1, nil
}

// Prune não tem trabalho a fazer: o Redis expira as chaves
func (l *RedisLimiter) Prune(ctx context.Context) (int, error) {
	return 0, nil
}
