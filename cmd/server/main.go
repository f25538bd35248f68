package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"parley-backend/internal/api"
	"parley-backend/internal/auth"
	"parley-backend/internal/config"
	"parley-backend/internal/ratelimit"
	"parley-backend/internal/repository"
	"parley-backend/internal/service"
	"parley-backend/internal/stream"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// version é sobrescrita no build com -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile     string
		migrate     bool
		showVersion bool
	)
	flags := pflag.NewFlagSet("parley-server", pflag.ContinueOnError)
	flags.StringVar(&envFile, "env-file", ".env", "arquivo .env opcional")
	flags.BoolVar(&migrate, "migrate", true, "aplica as migrações do PostgreSQL na inicialização")
	flags.BoolVar(&showVersion, "version", false, "imprime a versão e sai")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println(version)
		return nil
	}

	// 1. Carregar o .env antes da configuração; sem arquivo valem as
	// variáveis já presentes no ambiente
	envErr := godotenv.Load(envFile)

	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("falha ao carregar configuração: %w", err)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("arquivo .env não carregado", "file", envFile, "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Inicializar Camada de Repositório
	store, closeStore, err := openStore(ctx, cfg, migrate, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. Rate limiter (Redis quando configurado)
	limiter, closeLimiter, err := openLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	// 4. Inicializar Camada de Autenticação
	tokens, err := auth.NewTokenService(cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("falha ao iniciar TokenService: %w", err)
	}
	challenges := auth.NewChallengeStore(cfg.ChallengeTTL)

	// 5. Inicializar Camada de Serviço
	opts := service.Options{
		MaxChannels:            cfg.MaxChannels,
		MaxMembers:             cfg.MaxMembers,
		CallsEnabled:           cfg.CallsEnabled,
		InstanceInvite:         cfg.InstanceInvite,
		DisableChannelCreation: cfg.DisableChannelCreation,
		SessionRechallenge:     cfg.SessionRechallenge,
	}
	bus := stream.NewBus(logger, cfg.StreamMaxPending)
	notifier := stream.NewNotifier(bus, store, logger)
	channels := service.NewChannelService(store, notifier, opts, logger)
	streamCfg := stream.Config{
		FlushInterval:        cfg.StreamFlushInterval,
		HeartbeatInterval:    cfg.StreamHeartbeatInterval,
		SessionCheckInterval: cfg.StreamSessionCheckInterval,
	}
	services := api.Services{
		Auth:     service.NewAuthService(store, challenges, tokens, channels, opts, logger),
		Users:    service.NewUserService(store, notifier, logger),
		Channels: channels,
		Members:  service.NewMemberService(store, notifier, logger),
		Bans:     service.NewBanService(store, notifier, logger),
		Messages: service.NewMessageService(store, notifier, logger),
		Calls:    service.NewCallService(store, notifier, opts, logger),
		Stream:   service.NewStreamService(channels, bus, store, streamCfg, logger),
	}
	janitor := service.NewJanitor(challenges, limiter, cfg.JanitorInterval, logger)

	// 6. Inicializar Camada de API
	info := api.Info{
		Version:                version,
		MaxChannels:            cfg.MaxChannels,
		CallsEnabled:           cfg.CallsEnabled,
		DisableChannelCreation: cfg.DisableChannelCreation,
	}
	trustedProxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	handler := api.NewHandler(services, limiter, info, cfg.CORSOrigins, trustedProxies, logger)

	// 7. Configurar Servidor HTTP; o stream remove o WriteTimeout por conexão
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 8. Servidor e janitor rodam até o sinal de desligamento
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("servidor iniciado", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("erro ao iniciar servidor: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return janitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("encerrando servidor")
		// fechar o bus primeiro libera os streams abertos
		bus.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("erro no graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("servidor encerrado")
	return nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg config.Config, migrate bool, logger *slog.Logger) (repository.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL vazio, usando store em memória")
		return repository.NewInMemoryStore(), func() {}, nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, err := repository.NewPostgresStore(initCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("falha ao conectar ao banco de dados: %w", err)
	}
	if migrate {
		if err := store.RunMigrations(initCtx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return store, store.Close, nil
}

func openLimiter(ctx context.Context, cfg config.Config, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(), func() {}, nil
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URL inválida: %w", err)
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("não foi possível conectar ao Redis: %w", err)
	}
	logger.Info("rate limiter usando Redis", "addr", redisOpts.Addr)
	return ratelimit.NewRedisLimiter(client), func() { client.Close() }, nil
}
