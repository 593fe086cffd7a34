package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VanDung-dev/TableStore-Engine/api"
	"github.com/VanDung-dev/TableStore-Engine/config"
	"github.com/VanDung-dev/TableStore-Engine/flight"
	"github.com/VanDung-dev/TableStore-Engine/internal/logger"
	"github.com/VanDung-dev/TableStore-Engine/network"
	"github.com/VanDung-dev/TableStore-Engine/store"
	"github.com/VanDung-dev/TableStore-Engine/transport"
)

func serveCommand(load loader) *cobra.Command {
	var (
		socket   string
		dir      string
		capacity int64
		notify   string
		metrics  string
		flightOn bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the store daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("socket") {
				cfg.Store.SocketPath = socket
			}
			if flags.Changed("dir") {
				cfg.Store.Dir = dir
			}
			if flags.Changed("capacity") {
				cfg.Store.Capacity = capacity
			}
			if flags.Changed("notify") {
				cfg.Store.NotifyEndpoint = notify
			}
			if flags.Changed("metrics") {
				cfg.Store.MetricsAddr = metrics
			}
			if flags.Changed("flight") {
				cfg.Flight.Enabled = flightOn
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := logger.Init(cfg.Log); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger.Get())
		},
	}

	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket path")
	cmd.Flags().StringVar(&dir, "dir", "", "Shared memory directory for objects")
	cmd.Flags().Int64Var(&capacity, "capacity", 0, "Store capacity in bytes (0 = unlimited)")
	cmd.Flags().StringVar(&notify, "notify", "", "ZeroMQ endpoint to publish object events on")
	cmd.Flags().StringVar(&metrics, "metrics", "", "Address to serve /metrics on")
	cmd.Flags().BoolVar(&flightOn, "flight", false, "Serve objects over Arrow Flight")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []store.Option{
		store.WithLogger(log.Named("store")),
		store.WithMetrics(store.NewMetrics("tablestore", reg)),
	}

	if cfg.Store.NotifyEndpoint != "" {
		pub := network.NewPublisher(cfg.Store.NotifyEndpoint)
		if err := pub.Start(); err != nil {
			return err
		}
		defer pub.Stop()
		opts = append(opts, store.WithNotifier(pub))
		log.Info("publishing events", zap.Stringer("addr", pub.Addr()))
	}

	srv, err := store.NewServer(cfg.Store.Config, opts...)
	if err != nil {
		return err
	}
	if err := srv.StartAsync(); err != nil {
		return err
	}
	defer srv.Stop()

	if cfg.Store.MetricsAddr != "" {
		ms := api.NewMetricsServer(cfg.Store.MetricsAddr, reg, srv.Stats)
		if err := ms.StartAsync(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ms.Stop(shutdownCtx)
		}()
		log.Info("serving metrics", zap.Stringer("addr", ms.Addr()))
	}

	errCh := make(chan error, 1)
	if cfg.Flight.Enabled {
		client, err := transport.Connect(srv.SocketPath(), transport.WithName("flight"))
		if err != nil {
			return err
		}
		defer client.Disconnect()

		fs := flight.NewServer(cfg.Flight.Config, client, flight.WithLogger(log.Named("flight")))
		if err := fs.Init(); err != nil {
			return err
		}
		defer fs.Shutdown()
		go func() { errCh <- fs.Serve() }()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
