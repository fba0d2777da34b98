package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/termnetdev/termnet/internal/agent"
	"github.com/termnetdev/termnet/internal/bus"
	"github.com/termnetdev/termnet/internal/config"
	"github.com/termnetdev/termnet/internal/gateway"
	"github.com/termnetdev/termnet/internal/notify"
	"github.com/termnetdev/termnet/internal/safety"
	"github.com/termnetdev/termnet/internal/tools"
	"github.com/termnetdev/termnet/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent runtime and the WebSocket gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg := loadConfig()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(ctx, tracing.Config{
			Endpoint: cfg.Tracing.Endpoint,
			Insecure: true,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutCtx)
		}()
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	svcs, err := buildServices(cfg)
	if err != nil {
		return err
	}
	defer svcs.close()

	builtins := builtinTools(svcs)
	registry, err := buildRegistry(cfg, builtins)
	if err != nil {
		return err
	}

	// The gate and registry are swappable so config and manifest hot reloads
	// take effect on the next run without restarting in-flight sessions.
	var gateHolder atomic.Pointer[safety.Gate]
	var regHolder atomic.Pointer[tools.Registry]

	gate, err := buildGate(cfg)
	if err != nil {
		return err
	}
	gateHolder.Store(gate)
	regHolder.Store(registry)

	if err := registry.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		regHolder.Load().StopAll(stopCtx)
	}()

	sb := bus.New()

	agentCfg := cfg.Agent
	providerCfg := cfg.Provider
	factory := func(sessionKey string, sink agent.EventSink) *agent.Loop {
		opts := []agent.Option{}
		if svcs.notify != nil {
			opts = append(opts, agent.WithNotifications(svcs.notify))
		}
		return agent.NewLoop(provider, regHolder.Load(), gateHolder.Load(), sink, agent.Config{
			SessionKey:            sessionKey,
			Model:                 providerCfg.Model,
			MaxSteps:              agentCfg.MaxSteps,
			MaxMalformedRetries:   agentCfg.MaxMalformedRetries,
			MaxUnknownToolRetries: agentCfg.MaxUnknownToolRetries,
			MaxContextTokens:      agentCfg.ContextTokens,
			Options:               providerCfg.Options,
			GuardAction:           guardAction(agentCfg.GuardAction),
			Reflect:               agentCfg.Reflect,
		}, opts...)
	}

	runtime := agent.NewRuntime(sb, factory, time.Duration(agentCfg.DebounceMs)*time.Millisecond)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runtime.Run(gctx) })

	if cfg.Gateway.Enabled {
		gw := gateway.NewServer(gateway.Config{
			Addr:      cfg.Gateway.Addr,
			Token:     cfg.Gateway.Token,
			RateRPM:   cfg.Gateway.RateRPM,
			RateBurst: cfg.Gateway.RateBurst,
		}, sb, regHolder.Load)
		gw.SetSessionStopper(runtime)
		g.Go(func() error { return gw.Run(gctx) })
	}

	if svcs.notify != nil {
		nsvc := svcs.notify
		g.Go(func() error {
			nsvc.Run(func(due []notify.Notification) {
				for _, n := range due {
					slog.Info("reminder due", "id", n.ID, "message", n.Message)
					sb.Broadcast(bus.Event{
						Kind:    bus.EventNotification,
						Payload: n,
					})
				}
			})
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			nsvc.Stop()
			return nil
		})
	}

	if cfg.Tools.HotReload {
		watcher, err := tools.NewManifestWatcher(cfg.Tools.ManifestPath, builtins)
		if err == nil && watcher.Start() == nil {
			watcher.OnReload(func(fresh *tools.Registry) {
				applyRegistrySettings(cfg, fresh)

				// Lifecycle tools are shared instances, so the previous
				// registry must release them before the fresh one starts.
				swapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				previous := regHolder.Load()
				if err := previous.StopAll(swapCtx); err != nil {
					slog.Warn("manifest reload: stopping previous tools", "error", err)
				}
				if err := fresh.StartAll(swapCtx); err != nil {
					slog.Error("manifest reload: tool start failed, keeping previous registry", "error", err)
					if rerr := previous.StartAll(swapCtx); rerr != nil {
						slog.Error("manifest reload: previous registry restart failed", "error", rerr)
					}
					return
				}
				regHolder.Store(fresh)
			})
			defer watcher.Stop()
		} else {
			slog.Warn("manifest hot reload unavailable", "path", cfg.Tools.ManifestPath)
		}
	}

	if cw, err := config.NewWatcher(resolveConfigPath()); err == nil && cw.Start() == nil {
		cw.OnChange(func(fresh *config.Config) {
			setupLogging(fresh.LogLevel)
			if freshGate, err := buildGate(fresh); err == nil {
				gateHolder.Store(freshGate)
			} else {
				slog.Error("config reload: bad safety rules", "error", err)
			}
		})
		defer cw.Stop()
	}

	slog.Info("termnet serving",
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.Model,
		"tools", registry.Count(),
	)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
