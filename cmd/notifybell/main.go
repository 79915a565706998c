package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nhle/notifybell/internal/api"
	"github.com/nhle/notifybell/internal/app"
	"github.com/nhle/notifybell/internal/credential"
	"github.com/nhle/notifybell/internal/logging"
	"github.com/nhle/notifybell/internal/metrics"
	"github.com/nhle/notifybell/internal/model"
	"github.com/nhle/notifybell/internal/snapshot"
	"github.com/nhle/notifybell/internal/store"
	appsync "github.com/nhle/notifybell/internal/sync"
	"github.com/nhle/notifybell/internal/transport"
)

const tokenEnv = model.EnvPrefix + "_TOKEN"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "notifybell:", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment and config file still apply.
	_ = godotenv.Load()

	cfgPath := model.DefaultConfigPath()
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logg, logCloser, err := logging.Open("notifybell", cfg.Log)
	if err != nil {
		return err
	}
	defer func() {
		if err := logCloser.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "notifybell: closing log:", err)
		}
	}()

	var vault app.TokenVault
	v, err := credential.Open(model.DefaultConfigDir())
	if err != nil {
		logg.Warn().Err(err).Msg("keyring unavailable, tokens will not be remembered")
	} else {
		vault = v
	}

	token := os.Getenv(tokenEnv)
	if token == "" && vault != nil {
		token, err = vault.Get(credential.TokenKey)
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			logg.Warn().Err(err).Msg("reading remembered token")
		}
	}

	var channelMetrics *metrics.ChannelMetrics
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		channelMetrics = metrics.NewChannelMetrics(reg)

		srv := metricsServer(cfg.Metrics.Addr, reg, logg)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logg.Warn().Err(err).Msg("shutting down metrics server")
			}
		}()
	}

	clock := clockwork.NewRealClock()
	connect := func(baseURL string) app.Session {
		client := api.NewClient(baseURL, cfg.API.Timeout, logg)
		return appsync.NewManager(appsync.Deps{
			Store:     store.New(cfg.Notifications.MaxItems, nil, logg),
			Snapshots: snapshot.NewLoader(client, cfg.Notifications.PageSize, logg),
			API:       client,
		}, appsync.Options{
			BaseURL:        baseURL,
			ResyncAfter:    cfg.Channel.ResyncAfter,
			ConfirmRetries: cfg.API.ConfirmRetries,
			ConfirmTimeout: cfg.API.Timeout,
			Transport: transport.Options{
				Clock:             clock,
				HeartbeatInterval: cfg.Channel.HeartbeatInterval,
				ReconnectDelay:    cfg.Channel.ReconnectDelay,
			},
			Metrics: channelMetrics,
			Logger:  logg,
		})
	}

	root := app.New(app.Deps{
		BaseURL: cfg.API.BaseURL,
		Token:   token,
		Connect: connect,
		Vault:   vault,
		SaveBaseURL: func(baseURL string) error {
			cfg.API.BaseURL = baseURL
			return model.SaveConfig(cfgPath, cfg)
		},
		Clock:  clock,
		Logger: logg,
	})

	p := tea.NewProgram(root, tea.WithAltScreen(), tea.WithMouseCellMotion())
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("running program: %w", err)
	}

	if m, ok := final.(app.Model); ok {
		if err := m.Close(); err != nil {
			logg.Warn().Err(err).Msg("closing session")
		}
	}
	logg.Info().Msg("bye")
	return nil
}

// metricsServer serves /metrics on addr in the background.
func metricsServer(addr string, reg *prometheus.Registry, logg zerolog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logg.Info().Str("addr", addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}
