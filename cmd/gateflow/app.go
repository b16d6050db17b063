package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gateflow/gateflow/config"
	"github.com/gateflow/gateflow/engine"
	"github.com/gateflow/gateflow/internal/metrics"
	"github.com/gateflow/gateflow/internal/telemetry"
	"github.com/gateflow/gateflow/node"
	"github.com/gateflow/gateflow/store"
	"github.com/gateflow/gateflow/types"
)

// app bundles the wired components shared by the run and serve commands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *node.Registry
	stores    *store.Stores
	engine    *engine.Engine
	promReg   *prometheus.Registry
	telemetry *telemetry.Providers
}

// buildApp wires stores, registry, metrics, telemetry, and the engine from
// the loaded configuration.
func buildApp(cfg *config.Config, logger *zap.Logger, completer node.Completer, tools *node.ToolSet) (*app, error) {
	providers, err := telemetry.Init(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRate:   cfg.Telemetry.SampleRate,
	}, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	stores, err := store.New(store.Config{
		Type: store.BackendType(cfg.Store.Type),
		Redis: store.RedisConfig{
			Host:      cfg.Store.Redis.Host,
			Port:      cfg.Store.Redis.Port,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			PoolSize:  cfg.Store.Redis.PoolSize,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
			TTL:       cfg.Store.Redis.TTL,
		},
		SQL: store.SQLConfig{
			Driver: cfg.Store.SQL.Driver,
			DSN:    cfg.Store.SQL.DSN,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create stores: %w", err)
	}

	if cfg.Completer.RateLimitRPS > 0 {
		completer = node.NewRateLimitedCompleter(completer, cfg.Completer.RateLimitRPS, cfg.Completer.RateLimitBurst)
	}

	registry := node.NewRegistry(logger)
	if err := registry.RegisterBuiltins(completer, tools); err != nil {
		return nil, fmt.Errorf("register node kinds: %w", err)
	}

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector("gateflow", promReg, logger)

	eng := engine.New(registry, stores, engine.Options{
		Logger: logger,
		Retry: &engine.RetryConfig{
			MaxRetries:     cfg.Engine.MaxRetries,
			InitialBackoff: cfg.Engine.InitialBackoff,
			MaxBackoff:     cfg.Engine.MaxBackoff,
			Multiplier:     cfg.Engine.BackoffMultiplier,
		},
		MaxConcurrentTurns:  cfg.Engine.MaxConcurrentTurns,
		ConfirmationTimeout: cfg.Engine.ConfirmationTimeout,
		EventBuffer:         cfg.Engine.EventBuffer,
		Metrics:             collector,
	})

	return &app{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		stores:    stores,
		engine:    eng,
		promReg:   promReg,
		telemetry: providers,
	}, nil
}

// shutdown flushes telemetry within the configured timeout.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// scriptEntry is one completion in a scripted completions file.
type scriptEntry struct {
	Content   string `yaml:"content"`
	ToolCalls []struct {
		ID        string         `yaml:"id"`
		Name      string         `yaml:"name"`
		Arguments map[string]any `yaml:"arguments"`
	} `yaml:"tool_calls"`
}

// loadScript reads a scripted completions file. An empty path yields a
// single empty-script completer that answers "ok" to everything.
func loadScript(path string) (*node.ScriptedCompleter, error) {
	if path == "" {
		return node.NewScriptedCompleter(node.Completion{Content: "ok"}), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script file: %w", err)
	}
	var entries []scriptEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse script file: %w", err)
	}
	completions := make([]node.Completion, 0, len(entries))
	for _, e := range entries {
		c := node.Completion{Content: e.Content}
		for _, tc := range e.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encode tool call arguments: %w", err)
			}
			c.ToolCalls = append(c.ToolCalls, types.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: args,
			})
		}
		completions = append(completions, c)
	}
	return node.NewScriptedCompleter(completions...), nil
}

// defaultTools returns the demo tool set available to local runs: an echo
// tool and a confirmation-required variant of it.
func defaultTools() *node.ToolSet {
	tools := node.NewToolSet()
	_ = tools.Register(node.Tool{
		Name:        "echo",
		Description: "Echoes its arguments back",
		Execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	})
	_ = tools.Register(node.Tool{
		Name:                 "echo_confirmed",
		Description:          "Echoes its arguments back after approval",
		RequiresConfirmation: true,
		Execute: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	})
	return tools
}
