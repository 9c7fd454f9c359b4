// Package broadcaster drains the fill outbox to Kafka. Entries move
// NEW -> SENT -> ACKED; a failed publish marks them FAILED and they are
// retried on the next tick until MaxRetries.
package broadcaster

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kerdos/infra/kafka"
	"kerdos/infra/metrics"
	exitwal "kerdos/infra/wal/exit"
	"kerdos/logging"
)

// Publisher is implemented by the sarama and kafka-go producers.
type Publisher interface {
	Publish(ctx context.Context, msgs []kafka.Message) error
	Close() error
}

type Config struct {
	Interval   time.Duration
	Batch      int
	MaxRetries uint32
}

type Broadcaster struct {
	outbox  *exitwal.Outbox
	pub     Publisher
	cfg     Config
	log     *logging.Logger
	metrics *metrics.Metrics
}

func New(outbox *exitwal.Outbox, pub Publisher, cfg Config, log *logging.Logger, m *metrics.Metrics) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 256
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 10
	}
	return &Broadcaster{
		outbox:  outbox,
		pub:     pub,
		cfg:     cfg,
		log:     log.Named("broadcaster"),
		metrics: m,
	}
}

// Run blocks until ctx is done. Entries a previous process left in SENT
// are requeued first; Kafka consumers must tolerate the duplicate.
func (b *Broadcaster) Run(ctx context.Context) {
	if n, err := b.outbox.Requeue(); err != nil {
		b.log.Error("requeue sent entries", zap.Error(err))
	} else if n > 0 {
		b.log.Info("requeued unacknowledged fills", zap.Int("count", n))
	}
	b.log.Info("started", zap.Duration("interval", b.cfg.Interval))

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return
		case <-ticker.C:
			if _, err := b.DrainOnce(ctx); err != nil && ctx.Err() == nil {
				b.log.Warn("drain failed", zap.Error(err))
			}
		}
	}
}

// DrainOnce publishes up to one batch of pending entries and reports how
// many were acknowledged.
func (b *Broadcaster) DrainOnce(ctx context.Context) (int, error) {
	batch, err := b.collect()
	if err != nil {
		return 0, err
	}
	if len(batch) > 0 {
		if err := b.publish(ctx, batch); err != nil {
			return 0, err
		}
	}
	if _, err := b.outbox.DeleteAcked(); err != nil {
		return len(batch), err
	}
	b.reportCounts()
	return len(batch), nil
}

func (b *Broadcaster) collect() ([]exitwal.Entry, error) {
	var batch []exitwal.Entry
	err := b.outbox.ScanPending(b.cfg.Batch, b.cfg.MaxRetries, func(e exitwal.Entry) error {
		batch = append(batch, e)
		return nil
	})
	return batch, err
}

func (b *Broadcaster) publish(ctx context.Context, batch []exitwal.Entry) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, e := range batch {
		if err := b.outbox.MarkSent(e.Market, e.Seq); err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.Market), Value: e.Payload})
	}

	if err := b.pub.Publish(ctx, msgs); err != nil {
		b.metrics.Broadcast("error")
		for _, e := range batch {
			if merr := b.outbox.MarkFailed(e.Market, e.Seq); merr != nil {
				b.log.Error("mark failed", zap.String("market", e.Market), zap.Uint64("seq", e.Seq), zap.Error(merr))
			}
		}
		return err
	}

	for _, e := range batch {
		if err := b.outbox.MarkAcked(e.Market, e.Seq); err != nil {
			return err
		}
	}
	b.metrics.Broadcast("ok")
	b.log.Debug("published fills", zap.Int("count", len(batch)))
	return nil
}

func (b *Broadcaster) reportCounts() {
	if b.metrics == nil {
		return
	}
	counts, err := b.outbox.Counts()
	if err != nil {
		return
	}
	for _, s := range []exitwal.State{exitwal.StateNew, exitwal.StateSent, exitwal.StateFailed} {
		b.metrics.SetOutbox(s.String(), counts[s])
	}
}

func (b *Broadcaster) Close() error {
	return b.pub.Close()
}
