package main

import (
	"agora/backend/internal/api/handler"
	"agora/backend/internal/config"
	"agora/backend/internal/govhub"
	"agora/backend/internal/keys"
	"agora/backend/internal/localization"
	"agora/backend/internal/permission"
	"agora/backend/internal/relay"
	"agora/backend/internal/storage"
	"agora/backend/internal/telegram"
	"agora/backend/internal/validator"
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupDependencies(cfg *config.Config) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: "",
		DB:       0,
	})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Database and Redis connections established, migrations complete.")
	return db, rdb
}

func loadSigner(cfg *config.Config) *keys.KeySigner {
	if cfg.PrivateKey != "" {
		signer, err := keys.FromHex(cfg.PrivateKey)
		if err != nil {
			log.Fatalf("Invalid PRIVATE_KEY: %v", err)
		}
		return signer
	}
	signer, err := keys.Generate()
	if err != nil {
		log.Fatalf("Failed to generate a key: %v", err)
	}
	log.Printf("WARNING: PRIVATE_KEY not set, using ephemeral identity %s", signer.PublicKey())
	return signer
}

// connectRelays dials the configured relays. Without any it serves an
// embedded relay on /relay instead.
func connectRelays(ctx context.Context, cfg *config.Config, r *gin.Engine) relay.Transport {
	if len(cfg.Relays) > 0 {
		pool, clients, err := relay.DialPool(ctx, cfg.Relays)
		if err != nil {
			log.Fatalf("Failed to connect relays: %v", err)
		}
		log.Printf("Connected to %d of %d relays.", len(clients), len(cfg.Relays))
		return pool
	}

	mem := relay.NewMemory()
	r.GET("/relay", gin.WrapH(relay.NewServer(mem, keys.Verify)))
	log.Println("WARNING: RELAYS not set, serving the embedded relay on /relay")
	return mem
}

func main() {
	log.Println("Starting Agora governance backend...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, rdb := setupDependencies(cfg)
	s := storage.NewStorageService(db, rdb)

	l := localization.Default()
	if cfg.LocalesDir != "" {
		if l, err = localization.NewLocalizer(cfg.LocalesDir); err != nil {
			log.Fatalf("Failed to load locales: %v", err)
		}
	}

	policy := permission.DefaultPolicy()
	policy.MinJoinTime = cfg.MinJoinTime
	policy.Limits[permission.ActionCreateProposal] = permission.Limit{Max: cfg.ProposalsPerDay, Window: config.ProposalWindow}
	policy.Limits[permission.ActionKickPropose] = permission.Limit{Max: cfg.KickProposalsPerWeek, Window: config.KickProposalWindow}
	var actions permission.ActionLog
	if cfg.SharedThrottle {
		actions = storage.NewActionLog(rdb, config.KickProposalWindow)
	}

	gin.SetMode(gin.ReleaseMode)
	hubOpts := govhub.Options{
		Signer:          loadSigner(cfg),
		Storage:         s,
		Validator:       validator.New(cfg.VerifySignatures),
		Resolver:        permission.NewResolver(policy, actions),
		CountNonMembers: cfg.CountNonMembers,
		OrphanLimit:     cfg.OrphanLimit,
		OrphanWindow:    cfg.OrphanWindow,
	}

	// The router comes first so the embedded relay can be mounted on it.
	h := handler.NewHandler(nil, l, []byte(cfg.JWTSecret))
	r := h.Router(cfg.CORSOrigins)
	hubOpts.Transport = connectRelays(ctx, cfg, r)

	var bot *telegram.BotService
	if cfg.TelegramToken != "" {
		bot, err = telegram.NewBotService(cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramLang, nil, l)
		if err != nil {
			log.Fatalf("Failed to start Telegram bot: %v", err)
		}
		defer bot.Close()
		hubOpts.Notifier = bot
	}
	hub := govhub.NewManagerService(hubOpts)
	h.Hub = hub
	if bot != nil {
		bot.Hub = hub
	}

	if err := hub.Restore(ctx); err != nil {
		log.Printf("WARNING: restore failed, starting from relays only: %v", err)
	}
	go hub.Run(ctx)
	go hub.ListenFanOut(ctx, s)
	if bot != nil {
		go bot.Run(ctx)
	}

	for _, id := range cfg.Communities {
		if err := hub.Follow(ctx, id); err != nil {
			log.Printf("ERROR: failed to follow community %s: %v", id, err)
		}
	}
	log.Printf("Hub identity %s, following %d communities.", hub.PublicKey(), len(hub.Following()))

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: HTTP shutdown: %v", err)
	}
}
