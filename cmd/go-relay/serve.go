package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-essam23/go-relay/internal/directory"
	"github.com/a-essam23/go-relay/internal/migrate"
	"github.com/a-essam23/go-relay/internal/server"
	"github.com/a-essam23/go-relay/internal/store"
	"github.com/a-essam23/go-relay/internal/store/postgres"
	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept WebSocket connections and relay events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c.logger, c.cfg)
		},
	}
	flags := cmd.Flags()
	flags.String("address", ":8080", "listen address")
	flags.String("store-driver", "memory", "message store (memory, postgres)")
	flags.String("dsn", "", "postgres connection string")
	flags.String("redis-addr", "", "redis address for the presence mirror")
	bindKey(flags, "address", "server.address")
	bindKey(flags, "store-driver", "store.driver")
	bindKey(flags, "dsn", "store.dsn")
	bindKey(flags, "redis-addr", "presence.redisAddr")
	return cmd
}

func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	messages, dir, closeBackends, err := openBackends(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closeBackends()

	app := server.NewApp(logger, ctx, cfg, messages, dir)
	if mirror, ok := dir.(*directory.RedisMirror); ok {
		go mirror.KeepAlive(ctx, app.OnlineUsers)
	}
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		return err
	}
	logger.Info("Application shut down successfully.")
	return nil
}

// openBackends selects the message store and the user directory, optionally
// mirrored into redis. The returned func releases whatever was opened.
func openBackends(ctx context.Context, logger *slog.Logger, cfg *config.Config) (store.MessageStore, directory.Directory, func(), error) {
	var (
		messages store.MessageStore
		dir      directory.Directory
		closers  []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Store.Migrate {
			if err := migrate.Up(ctx, cfg.Store.DSN); err != nil {
				return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("Database migrations applied")
		}
		db, err := postgres.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, db.Close)
		messages = postgres.NewMessageRepo(db)
		dir = postgres.NewUserRepo(db)
	case "memory":
		logger.Warn("Using the in-memory store; messages are lost on restart")
		messages = store.NewMemoryStore()
		dir = directory.NewMemory()
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver '%s'", cfg.Store.Driver)
	}

	if cfg.Presence.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Presence.RedisAddr,
			Password: cfg.Presence.RedisPassword,
			DB:       cfg.Presence.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// the mirror is best-effort; writes are retried on every transition
			logger.Warn("Presence mirror unreachable", slog.String("addr", cfg.Presence.RedisAddr), slog.Any("error", err))
		}
		closers = append(closers, func() {
			if err := rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				logger.Warn("Failed to close redis client", slog.Any("error", err))
			}
		})
		dir = directory.NewRedisMirror(dir, rdb, cfg.Presence.KeyTTL, logger)
	}

	return messages, dir, closeAll, nil
}
