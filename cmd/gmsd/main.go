// Command gmsd runs a single cluster member with an HTTP management surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arya-analytics/gms"
	"github.com/arya-analytics/gms/address"
	"github.com/arya-analytics/gms/internal/telemetry"
	"github.com/arya-analytics/gms/locator"
	"github.com/arya-analytics/gms/locator/etcd"
	"github.com/arya-analytics/gms/management"
	tgrpc "github.com/arya-analytics/gms/transport/grpc"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

var configPath = flag.String("config", "config.yaml", "configuration file path")

func main() {
	flag.Parse()
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	if err := run(cfg, logger); err != nil {
		logger.Fatal("gmsd failed", zap.Error(err))
	}
}

func loadConfig() (Config, error) {
	if _, err := os.Stat(*configPath); err == nil {
		viper.SetConfigFile(*configPath)
	} else if !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "check config file")
	}
	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return Config{}, errors.Wrap(err, "read config")
	}
	cfg := defaultConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", level)
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

func run(cfg Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := address.Address(cfg.Address)
	loc, err := openLocator(cfg, logger)
	if err != nil {
		return err
	}
	if reg, ok := loc.(locator.Registry); ok {
		defer func() {
			dctx, dcancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
			defer dcancel()
			if err := reg.Deregister(dctx, addr); err != nil {
				logger.Warn("failed to deregister", zap.Error(err))
			}
		}()
	}

	kind := gms.KindMember
	if cfg.Admin {
		kind = gms.KindAdmin
	}
	mgr, err := management.New(management.Config{
		PulseURL: cfg.PulseURL,
		Logger:   logger.Named("management"),
		Factory: func(ctx context.Context) (gms.Membership, error) {
			peers, err := loc.Peers(ctx)
			if err != nil {
				return nil, err
			}
			peers = locator.Exclude(peers, addr)
			opts := []gms.Option{
				gms.WithDir(cfg.DataDir),
				gms.WithKind(kind),
				gms.WithLogger(logger),
				gms.WithTransport(tgrpc.New(logger.Named("transport"))),
				gms.WithRegisterer(prometheus.NewRegistry()),
				gms.WithTimingConfig(gms.TimingConfig{
					ProbeInterval:       cfg.ProbeInterval,
					MemberTimeout:       cfg.MemberTimeout,
					QuorumLossThreshold: cfg.QuorumLossThreshold,
				}),
			}
			if cfg.Bootstrap || len(peers) == 0 {
				opts = append(opts, gms.Bootstrap())
			}
			m, err := gms.Join(ctx, addr, peers, opts...)
			if err != nil {
				return nil, err
			}
			if reg, ok := loc.(locator.Registry); ok {
				if err := reg.Register(ctx, addr); err != nil {
					logger.Warn("failed to register", zap.Error(err))
				}
			}
			return m, nil
		},
	})
	if err != nil {
		return err
	}
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if _, err := mgr.Stop(); err != nil {
			logger.Error("failed to stop member", zap.Error(err))
		}
	}()

	srv := &http.Server{Addr: cfg.HTTPAddress, Handler: routes(mgr, logger)}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	logger.Info("serving management", zap.String("address", cfg.HTTPAddress))

	select {
	case <-ctx.Done():
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve management")
		}
	}
	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer scancel()
	return srv.Shutdown(sctx)
}

func openLocator(cfg Config, logger *zap.Logger) (locator.Locator, error) {
	if len(cfg.EtcdEndpoints) == 0 {
		peers := make(locator.Static, len(cfg.Peers))
		for i, p := range cfg.Peers {
			peers[i] = address.Address(p)
		}
		return peers, nil
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.EtcdEndpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "create etcd client")
	}
	return etcd.New(etcd.Config{
		Client: client,
		Prefix: cfg.EtcdPrefix,
		TTL:    cfg.EtcdTTL,
		Logger: logger.Named("locator"),
	})
}

type status struct {
	Running  bool     `json:"running"`
	Message  string   `json:"message"`
	PulseURL string   `json:"pulseURL"`
	ViewID   uint64   `json:"viewID,omitempty"`
	Members  []string `json:"members,omitempty"`
	Host     string   `json:"host,omitempty"`
}

func routes(mgr *management.Manager, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		s := status{Running: mgr.IsRunning(), Message: mgr.StatusMessage(), PulseURL: mgr.PulseURL()}
		if m, ok := mgr.Member(); ok {
			v := m.View()
			s.Host, s.ViewID = m.Host().String(), v.ID
			for _, mem := range v.Members {
				s.Members = append(s.Members, mem.String())
			}
		}
		writeJSON(w, logger, s)
	})
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		started, err := mgr.Start(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, map[string]bool{"started": started})
	})
	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stopped, err := mgr.Stop()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, map[string]bool{"stopped": stopped})
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		m, ok := mgr.Member()
		if !ok {
			http.Error(w, "member not started", http.StatusServiceUnavailable)
			return
		}
		g, ok := m.(interface{ Gatherer() prometheus.Gatherer })
		if !ok || g.Gatherer() == nil {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
			return
		}
		telemetry.Handler(g.Gatherer()).ServeHTTP(w, r)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", zap.Error(err))
	}
}
