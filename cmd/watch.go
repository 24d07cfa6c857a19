package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Emyrk/callgraph/watch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/coder/serpent"
)

type WatchConfig struct {
	Sources []watch.SourceOptions `yaml:"sources"`
}

// LoadWatchConfig reads the YAML config at path.
func LoadWatchConfig(path string) (WatchConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return WatchConfig{}, fmt.Errorf("read config: %w", err)
	}

	var config WatchConfig
	err = yaml.Unmarshal(yamlData, &config)
	if err != nil {
		return WatchConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(config.Sources) == 0 {
		return WatchConfig{}, fmt.Errorf("no sources configured in %q", path)
	}
	return config, nil
}

func configureWatchers(config WatchConfig, logger zerolog.Logger) ([]*watch.Watcher, *prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	watchers := make([]*watch.Watcher, 0, len(config.Sources))
	for _, source := range config.Sources {
		watcher, err := watch.New(source, logger.With().Str("service", "watcher").Logger())
		if err != nil {
			logger.Error().Err(err).Str("source", source.Name).Msg("new watcher")
			return nil, nil, fmt.Errorf("new watcher: %w", err)
		}
		err = reg.Register(watcher)
		if err != nil {
			logger.Error().Err(err).Str("source", watcher.Name).Msg("register watcher")
			return nil, nil, fmt.Errorf("register watcher %q: %w", watcher.Name, err)
		}
		watchers = append(watchers, watcher)
	}
	return watchers, reg, nil
}

func (r *Root) WatchCmd() *serpent.Command {
	var (
		configPath string
		listen     string
	)
	return &serpent.Command{
		Use:   "watch",
		Short: "Watch profile files and export their call graphs as prometheus metrics.",
		Options: serpent.OptionSet{
			serpent.Option{
				Name:          "config",
				Description:   "YAML config file to use.",
				Required:      false,
				Flag:          "config",
				FlagShorthand: "c",
				Env:           "CALLGRAPH_CONFIG",
				Default:       "config.yaml",
				Value:         serpent.StringOf(&configPath),
			},
			serpent.Option{
				Name:        "listen",
				Description: "Address to serve /metrics on.",
				Flag:        "listen",
				Env:         "CALLGRAPH_LISTEN",
				Default:     ":2112",
				Value:       serpent.StringOf(&listen),
			},
		},
		Handler: func(i *serpent.Invocation) error {
			logger := r.Logger(i)
			ctx := i.Context()

			config, err := LoadWatchConfig(configPath)
			if err != nil {
				logger.Error().Err(err).Str("config", configPath).Msg("load config")
				return err
			}

			watchers, reg, err := configureWatchers(config, logger)
			if err != nil {
				return err
			}

			logger.Info().
				Int("num_watchers", len(watchers)).
				Str("listen", listen).
				Msg("watching")

			for _, watcher := range watchers {
				go watcher.Watch(ctx)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
				Registry: reg,
			}))
			srv := &http.Server{
				Addr:              listen,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			err = srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
}
