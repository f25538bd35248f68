package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config armazena a configuração da aplicação
type Config struct {
	ServerPort    int      `envconfig:"SERVER_PORT" default:"8080"`
	SessionSecret string   `envconfig:"SESSION_SECRET" required:"true"`
	DatabaseURL   string   `envconfig:"DATABASE_URL"` // vazio usa o store em memória
	RedisURL      string   `envconfig:"REDIS_URL"`    // vazio usa o limiter em memória
	CORSOrigins   []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	// CIDRs ou IPs de proxies cujos X-Forwarded-For/X-Real-IP são aceitos.
	// Vazio ignora esses headers.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	ChallengeTTL       time.Duration `envconfig:"CHALLENGE_TTL" default:"60s"`
	SessionRechallenge time.Duration `envconfig:"SESSION_RECHALLENGE" default:"1h"`
	JanitorInterval    time.Duration `envconfig:"JANITOR_INTERVAL" default:"1m"`

	StreamFlushInterval        time.Duration `envconfig:"STREAM_FLUSH_INTERVAL" default:"100ms"`
	StreamHeartbeatInterval    time.Duration `envconfig:"STREAM_HEARTBEAT_INTERVAL" default:"10s"`
	StreamSessionCheckInterval time.Duration `envconfig:"STREAM_SESSION_CHECK_INTERVAL" default:"60s"`
	StreamMaxPending           int           `envconfig:"STREAM_MAX_PENDING" default:"1024"`

	MaxChannels            int    `envconfig:"MAX_CHANNELS" default:"150"`
	MaxMembers             int    `envconfig:"MAX_MEMBERS" default:"100"`
	CallsEnabled           bool   `envconfig:"CALLS_ENABLED" default:"true"`
	InstanceInvite         string `envconfig:"INSTANCE_INVITE"`
	DisableChannelCreation bool   `envconfig:"DISABLE_CHANNEL_CREATION" default:"false"`
}

// Load carrega a configuração das variáveis de ambiente
func Load(cfg *Config) error {
	return envconfig.Process("", cfg)
}
