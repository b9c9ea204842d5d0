package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacentio/strata/config"
	"github.com/jacentio/strata/notify/redis"
	"github.com/jacentio/strata/store"
)

var (
	configPath string
	tenant     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "strata",
	Short:        "Entity access CLI",
	Long:         "Strata runs find, count, get and mutation commands against a memory, SQLite, DynamoDB or MongoDB store.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&tenant, "tenant", "t", "", "tenant key (default tenant when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(clearCmd)
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// openStore builds the store from config and returns the context carrying
// the tenant. The returned cleanup disconnects every adapter.
func openStore(cmd *cobra.Command) (*store.Store, context.Context, func(), error) {
	logger, err := newLogger(logLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, nil, err
	}
	f, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := f.StoreConfig()
	cfg.Logger = logger
	// A one-shot command should fail instead of waiting on a dead backend.
	cfg.AutoReconnect = false

	closers := []func(){}
	if f.RedisAddr != "" {
		b, client, err := redis.Dial(ctx, f.RedisAddr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cfg.Broadcaster = b
		cfg.Cache.Enabled = true
		closers = append(closers, func() { _ = client.Close() })
	}

	s, err := store.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if tenant != "" {
		ctx = store.WithTenant(ctx, tenant)
	}
	cleanup := func() {
		if err := s.DisconnectAll(context.Background()); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
		for _, c := range closers {
			c()
		}
	}
	return s, ctx, cleanup, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseObject(arg string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(arg), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return m, nil
}
