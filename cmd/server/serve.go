package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kerdos/api/grpcserver"
	"kerdos/config"
	"kerdos/infra/kafka"
	"kerdos/infra/ledger"
	"kerdos/infra/metrics"
	entrywal "kerdos/infra/wal/entry"
	exitwal "kerdos/infra/wal/exit"
	"kerdos/jobs/broadcaster"
	"kerdos/logging"
	"kerdos/service"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Recover state and serve the gRPC API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := cmd.Flags().GetString(configFlagName)
		if err != nil {
			return err
		}
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		log, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		defer log.AtExit()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

// openService wires the ledger, outbox and journal into a recovered
// MarketService. The returned closer releases everything it opened.
func openService(cfg *config.Config, log *logging.Logger, m *metrics.Metrics) (*service.MarketService, *exitwal.Outbox, func(), error) {
	led, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.Path)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "open ledger")
	}
	outbox, err := exitwal.Open(cfg.Storage.OutboxDir)
	if err != nil {
		_ = led.Close()
		return nil, nil, nil, errors.Wrap(err, "open outbox")
	}
	svc, err := service.Open(service.Config{
		Journal:     entrywal.Config{Dir: cfg.Storage.WALDir, SegmentSize: cfg.Storage.SegmentSize},
		SnapshotDir: cfg.Storage.SnapshotDir,
	}, service.Deps{Ledger: led, Outbox: outbox, Metrics: m, Log: log})
	if err != nil {
		_ = outbox.Close()
		_ = led.Close()
		return nil, nil, nil, errors.Wrap(err, "open service")
	}
	closer := func() {
		if err := svc.Close(); err != nil {
			log.Error("close service", zap.Error(err))
		}
		_ = outbox.Close()
		_ = led.Close()
	}
	return svc, outbox, closer, nil
}

func newPublisher(cfg config.Broadcaster) (broadcaster.Publisher, error) {
	switch cfg.Driver {
	case "kafka-go":
		return kafka.NewProducer(cfg.Brokers, cfg.Topic), nil
	default:
		return broadcaster.NewSaramaPublisher(cfg.Brokers, cfg.Topic)
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	m := metrics.New()
	svc, outbox, closeAll, err := openService(cfg, log, m)
	if err != nil {
		return err
	}
	defer closeAll()

	for _, mc := range cfg.Markets {
		p, err := mc.Resolve()
		if err != nil {
			return err
		}
		created, err := svc.EnsureMarket(ctx, mc.Name, mc.AuthorityID(), p)
		if err != nil {
			return errors.Wrapf(err, "market %q", mc.Name)
		}
		if created {
			log.Info("market bootstrapped from config", zap.String("market", mc.Name))
		}
	}

	var bc *broadcaster.Broadcaster
	if cfg.Broadcaster.Enabled {
		pub, err := newPublisher(cfg.Broadcaster)
		if err != nil {
			return errors.Wrap(err, "kafka publisher")
		}
		bc = broadcaster.New(outbox, pub, broadcaster.Config{
			Interval: cfg.Broadcaster.Interval,
			Batch:    cfg.Broadcaster.Batch,
		}, log, m)
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		if bc != nil {
			_ = bc.Close()
		}
		return errors.Wrap(err, "listen")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Serve(ctx, cfg.Metrics.Addr, log) })
	g.Go(func() error {
		svc.RunSnapshots(ctx, cfg.Storage.SnapshotInterval)
		return nil
	})

	if bc != nil {
		g.Go(func() error {
			bc.Run(ctx)
			return bc.Close()
		})
	}

	srv := grpcserver.NewGRPCServer(grpcserver.NewServer(svc), log)
	g.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		return nil
	})
	g.Go(func() error {
		log.Info("kerdos serving",
			zap.String("grpc", cfg.GRPC.Addr),
			zap.Int("markets", len(svc.Markets())),
			zap.Uint64("seq", svc.Seq()))
		return srv.Serve(lis)
	})

	err = g.Wait()
	log.Info("kerdos stopped", zap.Uint64("seq", svc.Seq()))
	return err
}
