package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"smm-telegram/bot"
	"smm-telegram/config"
	"smm-telegram/db"
	"smm-telegram/httpapi"
	"smm-telegram/logger"
	"smm-telegram/services"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// hash-password needs no configuration.
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		runHashPassword(os.Args[2:])
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, log)
	case "migrate":
		err = runMigrate(ctx, cfg)
	case "sync-catalog":
		err = runSyncCatalog(ctx, cfg, log)
	default:
		err = fmt.Errorf("unknown command %q (serve, migrate, sync-catalog, hash-password)", cmd)
	}
	if err != nil {
		log.Error("exit", zap.String("command", cmd), zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	catalog, err := services.LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	log.Info("catalog loaded", zap.String("path", cfg.Catalog.Path), zap.Int("services", len(catalog.All())))

	if err := db.Init(ctx, cfg.DB); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	if v := strings.TrimSpace(os.Getenv("AUTO_MIGRATE")); v == "1" || strings.EqualFold(v, "true") {
		if err := applyMigrations(ctx, false); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	margins := services.NewMargins(cfg.Catalog.DefaultMargin, services.NewPgMarginStore(db.Pool))
	if err := margins.Load(ctx); err != nil {
		return err
	}

	proofs, err := services.NewProofStore(cfg.Payment.ProofDir)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	sessions := services.NewSessionStore(cfg.Session.IdleTimeout)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions.Run(ctx, cfg.Session.IdleTimeout/2)
	}()

	var dedupe services.Deduper = services.NewMemoryDeduper()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		dedupe = services.NewRedisDeduper(rdb)
		log.Info("fulfillment dedupe on redis", zap.String("addr", cfg.Redis.Addr))
	}

	var events services.Publisher = services.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := services.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, 256, log)
		kp.Start(ctx)
		defer kp.WaitClosed()
		events = kp
		log.Info("publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	log.Info("authorized", zap.String("bot", api.Self.UserName))

	ledger := services.NewPgLedger(db.Pool)
	users := services.NewPgUserDirectory(db.Pool)
	agency := services.NewAgencyClient(cfg.Agency.BaseURL, cfg.Agency.APIKey, cfg.Agency.Timeout)
	out := bot.NewOutbox(api, services.NewMessageLog(db.Pool), log.Named("outbox"))

	admin := services.NewAdmin(ledger, margins, catalog, agency, dedupe, out, users, events, log.Named("admin"),
		services.AdminOptions{
			AdminIDs:       cfg.Telegram.AdminIDs,
			CurrencySymbol: cfg.Payment.CurrencySymbol,
			AgencyTimeout:  cfg.Agency.Timeout,
		})
	if n, err := admin.ReportStuck(ctx); err != nil {
		log.Error("report interrupted fulfillments", zap.Error(err))
	} else if n > 0 {
		log.Warn("interrupted fulfillments reported to admins", zap.Int("orders", n))
	}

	flow := services.NewFlow(catalog, margins, sessions, ledger, proofs, users, events, log.Named("flow"),
		services.FlowOptions{
			AdminIDs:       cfg.Telegram.AdminIDs,
			LinkHosts:      cfg.Catalog.LinkHosts,
			UPIID:          cfg.Payment.UPIID,
			PayeeName:      cfg.Payment.PayeeName,
			CurrencyCode:   cfg.Payment.CurrencyCode,
			CurrencySymbol: cfg.Payment.CurrencySymbol,
		})

	poller := services.NewStatusPoller(ledger, agency, out, events, log.Named("poller"), cfg.Agency.PollInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	if cfg.HTTP.Addr != "" {
		srv := httpapi.New(cfg.HTTP.Addr, cfg.HTTP.AdminToken, ledger, margins, log.Named("http"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Error("admin api", zap.Error(err))
			}
		}()
	}

	b := bot.New(api, out, bot.Deps{
		Flow:           flow,
		Admin:          admin,
		Auth:           services.NewAdminAuth(cfg.Telegram.AdminPasswordHash),
		Throttle:       services.NewLoginThrottle(db.Pool),
		Proofs:         proofs,
		Cards:          services.NewAdminCards(db.Pool),
		CurrencySymbol: cfg.Payment.CurrencySymbol,
	}, log.Named("bot"))

	log.Info("bot started", zap.Int("admins", len(cfg.Telegram.AdminIDs)))
	b.Start(ctx)
	log.Info("shutting down")
	admin.Close()
	b.WaitReports()
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	if err := db.Init(ctx, cfg.DB); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()
	return applyMigrations(ctx, true)
}

func runSyncCatalog(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	agency := services.NewAgencyClient(cfg.Agency.BaseURL, cfg.Agency.APIKey, cfg.Agency.Timeout)
	report, err := services.SyncCatalog(ctx, cfg.Catalog.Path, agency)
	if err != nil {
		return err
	}
	for _, m := range report.Matched {
		log.Info("matched", zap.String("service", m.Key), zap.Int("agency_id", m.AgencyID),
			zap.String("agency_name", m.AgencyName), zap.Float64("similarity", m.Similarity))
	}
	for _, key := range report.Unmatched {
		log.Warn("no agency match", zap.String("service", key))
	}
	fmt.Printf("Catalog synced: %d matched, %d unmatched.\n", len(report.Matched), len(report.Unmatched))
	return nil
}

func runHashPassword(args []string) {
	password := ""
	if len(args) > 0 {
		password = args[0]
	} else {
		generated, err := services.GenerateSecurePassword()
		if err != nil {
			fmt.Fprintln(os.Stderr, "generate password:", err)
			os.Exit(1)
		}
		password = generated
		fmt.Println("Password:", password)
	}
	hash, err := services.HashPassword(password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hash password:", err)
		os.Exit(1)
	}
	fmt.Println("ADMIN_PASSWORD_HASH=" + hash)
}
