package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"login-gate/internal/admin"
	"login-gate/internal/auth"
	"login-gate/internal/ban"
	"login-gate/internal/db"
	"login-gate/internal/notify"
	"login-gate/internal/observability"
	"login-gate/internal/telegram"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool

	// Sender replaces the Telegram bot, mainly for tests.
	Sender notify.Sender
	Logger *observability.Logger
}

type Runtime struct {
	Addr    string
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := options.Logger
	if logger == nil {
		level, err := observability.ParseLevel(os.Getenv("LOG_LEVEL"))
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		logger = observability.NewLogger().WithLevel(level)
	}
	logger = logger.With(map[string]any{"component": "notifyd"})

	recipients, err := telegram.ParseRecipients(os.Getenv("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS: %w", err)
	}

	sender := options.Sender
	if sender == nil {
		token, err := mustEnv("TELEGRAM_BOT_TOKEN")
		if err != nil {
			return nil, err
		}
		bot, err := telegram.New(token)
		if err != nil {
			return nil, err
		}
		logger.Info("telegram_bot_ready", map[string]any{"bot": bot.Username()})
		sender = bot
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	store, database, err := openStore(envOrDefault("BAN_STORE", "memory"), options.RunMigrations, logger)
	if err != nil {
		return nil, err
	}

	service := notify.NewService(store, sender, logger, notify.Config{
		Recipients:      recipients,
		LockDuration:    envMinutesOrDefault("BAN_LOCK_MINUTES", 15),
		RequireDelivery: EnvBoolOrDefault("NOTIFY_REQUIRE_DELIVERY", false),
	})
	notifyHandler := notify.NewHandler(service)
	banAdmin := admin.NewBanHandler(store, logger, os.Getenv("ADMIN_SECRET"))

	gateSecret := os.Getenv("GATE_SHARED_SECRET")
	requireGateToken := func(next http.Handler) http.Handler {
		return auth.Middleware(gateSecret, next)
	}

	mux := http.NewServeMux()
	notifyHandler.Register(mux, requireGateToken)
	banAdmin.Register(mux)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Addr:    envOrDefault("LISTEN_ADDR", "127.0.0.1:8080"),
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			if database != nil {
				return database.Close()
			}
			return nil
		},
	}, nil
}

func openStore(kind string, runMigrations bool, logger *observability.Logger) (ban.Store, *sql.DB, error) {
	if strings.EqualFold(kind, "memory") {
		return ban.NewMemoryStore(nil), nil, nil
	}

	dialect, err := db.DialectFor(kind)
	if err != nil {
		return nil, nil, fmt.Errorf("BAN_STORE: %w", err)
	}
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, nil, err
	}

	database, err := db.Open(dialect, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if dialect == db.Postgres {
		database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
		database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
		database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	}

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if runMigrations {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		applied, err := db.RunMigrations(ctx, database, dialect)
		cancel()
		if err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations_applied", map[string]any{"dialect": dialect.Name, "versions": applied})
	}

	return ban.NewSQLStore(database, dialect, nil), database, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}

		if database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := database.PingContext(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
