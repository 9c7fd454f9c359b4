package broadcaster

import (
	"context"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kerdos/infra/kafka"
	"kerdos/infra/metrics"
	exitwal "kerdos/infra/wal/exit"
	"kerdos/logging"
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []kafka.Message
	fail error
}

func (p *recordingPublisher) Publish(_ context.Context, msgs []kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.sent = append(p.sent, msgs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newOutbox(t *testing.T, entries int) *exitwal.Outbox {
	t.Helper()
	o, err := exitwal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	fills := make([]exitwal.Entry, 0, entries)
	for seq := 1; seq <= entries; seq++ {
		fills = append(fills, exitwal.Entry{Seq: uint64(seq), Payload: []byte{byte(seq)}})
	}
	require.NoError(t, o.PutFills("m", 1, fills))
	return o
}

func countIn(t *testing.T, o *exitwal.Outbox, s exitwal.State) int {
	t.Helper()
	c, err := o.Counts()
	require.NoError(t, err)
	return c[s]
}

func TestDrainPublishesInOrderAndCleansUp(t *testing.T) {
	o := newOutbox(t, 5)
	pub := &recordingPublisher{}
	b := New(o, pub, Config{Batch: 3}, logging.NewTestLogger(), metrics.New())

	n, err := b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, pub.sent, 5)
	for i, m := range pub.sent {
		assert.Equal(t, []byte("m"), m.Key)
		assert.Equal(t, []byte{byte(i + 1)}, m.Value)
	}
	counts, err := o.Counts()
	require.NoError(t, err)
	assert.Empty(t, counts, "acked entries are deleted")
}

func TestFailedPublishIsRetried(t *testing.T) {
	o := newOutbox(t, 2)
	pub := &recordingPublisher{fail: errors.New("broker down")}
	b := New(o, pub, Config{MaxRetries: 2}, logging.NewTestLogger(), nil)

	_, err := b.DrainOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, countIn(t, o, exitwal.StateFailed))

	pub.fail = nil
	n, err := b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.sent, 2)
}

func TestRetriedFillGoesOutBeforeNewerFills(t *testing.T) {
	o := newOutbox(t, 1)
	pub := &recordingPublisher{fail: errors.New("broker down")}
	b := New(o, pub, Config{}, logging.NewTestLogger(), nil)

	_, err := b.DrainOnce(context.Background())
	require.Error(t, err)
	require.NoError(t, o.PutFills("m", 2, []exitwal.Entry{
		{Seq: 2, Payload: []byte{2}},
		{Seq: 3, Payload: []byte{3}},
	}))

	pub.fail = nil
	n, err := b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, pub.sent, 3)
	for i, m := range pub.sent {
		assert.Equal(t, []byte{byte(i + 1)}, m.Value)
	}
}

func TestRetriesAreCapped(t *testing.T) {
	o := newOutbox(t, 1)
	pub := &recordingPublisher{fail: errors.New("broker down")}
	b := New(o, pub, Config{MaxRetries: 2}, logging.NewTestLogger(), nil)

	for i := 0; i < 2; i++ {
		_, err := b.DrainOnce(context.Background())
		require.Error(t, err)
	}
	n, err := b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "entry past MaxRetries is parked")
	assert.Equal(t, 1, countIn(t, o, exitwal.StateFailed))
}

func TestSaramaPublisher(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	mp := mocks.NewSyncProducer(t, cfg)
	mp.ExpectSendMessageAndSucceed()
	mp.ExpectSendMessageAndSucceed()

	pub := WrapSyncProducer(mp, "fills")
	o := newOutbox(t, 2)
	b := New(o, pub, Config{}, logging.NewTestLogger(), nil)

	n, err := b.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, b.Close())
}

func TestSaramaPublisherError(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	mp := mocks.NewSyncProducer(t, cfg)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := WrapSyncProducer(mp, "fills")
	err := pub.Publish(context.Background(), []kafka.Message{{Key: []byte("m"), Value: []byte("x")}})
	require.Error(t, err)
	require.NoError(t, pub.Close())
}
