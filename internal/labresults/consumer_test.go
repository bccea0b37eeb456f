package labresults

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/mailbox"
	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/BTreeMap/StatusPipe/internal/status"
	"github.com/BTreeMap/StatusPipe/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeReceiver struct {
	mu      sync.Mutex
	results []models.TestResult
	errs    []error
}

func (f *fakeReceiver) Received(_ context.Context, result models.TestResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil && !errors.Is(err, status.ErrSideEffect) {
			return err
		}
		f.results = append(f.results, result)
		return err
	}
	f.results = append(f.results, result)
	return nil
}

func (f *fakeReceiver) applied() []models.TestResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.TestResult(nil), f.results...)
}

func newDedup(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "dedup.db")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func labMessage(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "lab-results", Partition: 0, Offset: offset, Value: []byte(value)}
}

func runUntilCommitted(t *testing.T, c *Consumer, r *fakeReader, n int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(r.commits()) == n }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestConsumerAppliesAndCommits(t *testing.T) {
	dedup := newDedup(t)
	ctx := context.Background()
	// Offset 2 was applied before a restart but its commit was lost.
	_, err := dedup.RecordInbound(ctx, "lab-results/0/2", "kafka")
	require.NoError(t, err)
	require.NoError(t, dedup.MarkProcessed(ctx, "lab-results/0/2"))

	reader := &fakeReader{queue: []kafka.Message{
		labMessage(1, `{"result":"negative","test_timestamp":"2020-05-11T06:00:00Z","type":"pcr"}`),
		labMessage(2, `{"result":"positive","test_timestamp":"2020-05-11T06:00:00Z"}`),
		labMessage(3, `{"result":"maybe","test_timestamp":"2020-05-11T06:00:00Z"}`),
		labMessage(4, `{"result":"positive","test_timestamp":"2020-05-12T06:00:00Z","acknowledgement_url":"https://lab.example/ack/4"}`),
	}}
	receiver := &fakeReceiver{}
	c := newConsumer(reader, receiver, dedup, clockwork.NewRealClock())

	runUntilCommitted(t, c, reader, 4)

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.commits())
	applied := receiver.applied()
	require.Len(t, applied, 2)
	assert.Equal(t, models.TestResultNegative, applied[0].Result)
	assert.Equal(t, "pcr", applied[0].Type)
	assert.Equal(t, models.TestResultPositive, applied[1].Result)
	assert.Equal(t, "https://lab.example/ack/4", applied[1].AcknowledgementURL)

	done, err := dedup.IsProcessed(ctx, "lab-results/0/4")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestConsumerRetriesTransientFailure(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		labMessage(7, `{"result":"unclear","test_timestamp":"2020-05-11T06:00:00Z"}`),
	}}
	receiver := &fakeReceiver{errs: []error{errors.New("database is locked"), errors.New("database is locked")}}
	c := newConsumer(reader, receiver, newDedup(t), clockwork.NewRealClock())
	c.retryBase = time.Millisecond

	runUntilCommitted(t, c, reader, 1)

	assert.Len(t, receiver.applied(), 1)
}

func TestConsumerTreatsSideEffectFailureAsApplied(t *testing.T) {
	dedup := newDedup(t)
	reader := &fakeReader{queue: []kafka.Message{
		labMessage(9, `{"result":"positive","test_timestamp":"2020-05-11T06:00:00Z"}`),
	}}
	receiver := &fakeReceiver{errs: []error{fmt.Errorf("received: %w: scheduler down", status.ErrSideEffect)}}
	c := newConsumer(reader, receiver, dedup, clockwork.NewRealClock())

	runUntilCommitted(t, c, reader, 1)

	assert.Len(t, receiver.applied(), 1)
	done, err := dedup.IsProcessed(context.Background(), "lab-results/0/9")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestConsumerDoesNotCommitWhileRetrying(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		labMessage(1, `{"result":"positive","test_timestamp":"2020-05-11T06:00:00Z"}`),
	}}
	receiver := &fakeReceiver{errs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	clock := clockwork.NewFakeClock()
	c := newConsumer(reader, receiver, newDedup(t), clock)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Empty(t, reader.commits())
	cancel()
	require.NoError(t, <-errCh)
	assert.Empty(t, reader.commits())
}

func TestDecode(t *testing.T) {
	r, err := decode([]byte(`{"result":"Positive","test_timestamp":"2020-05-11T06:00:00+02:00"}`))
	require.NoError(t, err)
	assert.Equal(t, models.TestResultPositive, r.Result)
	assert.True(t, r.TestTimestamp.Equal(time.Date(2020, 5, 11, 4, 0, 0, 0, time.UTC)))

	for _, bad := range []string{`{`, `{"result":"positive"}`, `{"result":"","test_timestamp":"2020-05-11T06:00:00Z"}`} {
		_, err := decode([]byte(bad))
		assert.ErrorIs(t, err, errMalformed, bad)
	}
}

func TestNewConsumerValidatesConfig(t *testing.T) {
	_, err := NewConsumer(Config{Topic: "lab-results"}, &fakeReceiver{}, nil)
	assert.Error(t, err)
}

type flakyMark struct {
	store.DedupRepo
	failures int
}

func (d *flakyMark) MarkProcessed(ctx context.Context, messageID string) error {
	if d.failures > 0 {
		d.failures--
		return errors.New("process stopped")
	}
	return d.DedupRepo.MarkProcessed(ctx, messageID)
}

type nopScheduler struct{}

func (nopScheduler) Schedule(context.Context, string, time.Time, models.Notification) error { return nil }
func (nopScheduler) Cancel(context.Context, string) error                                   { return nil }

type nopUploader struct{}

func (nopUploader) Upload(context.Context, time.Time) error { return nil }

func TestConsumerReappliesInterruptedMessageIdempotently(t *testing.T) {
	ctx := context.Background()
	onset := time.Date(2020, 5, 10, 6, 0, 0, 0, time.UTC)
	states := store.NewInMemoryStore()
	require.NoError(t, states.SaveStatus(ctx, models.PositiveTestResult{Symptoms: models.NewSymptoms(models.SymptomCough), StartDate: onset}))

	machine := status.NewMachine(states, nopScheduler{}, nopUploader{}, mailbox.New(),
		status.WithClock(clockwork.NewFakeClockAt(time.Date(2020, 5, 19, 9, 0, 0, 0, time.UTC))),
		status.WithLocation(time.UTC))
	t.Cleanup(machine.Close)

	dedup := &flakyMark{DedupRepo: newDedup(t), failures: 1}
	c := newConsumer(&fakeReader{}, machine, dedup, clockwork.NewRealClock())
	msg := labMessage(7, `{"result":"positive","test_timestamp":"2020-05-18T06:00:00Z"}`)

	require.Error(t, c.process(ctx, msg), "mark fails after the result was applied")
	require.NoError(t, c.process(ctx, msg), "redelivery applies again")

	done, err := dedup.IsProcessed(ctx, messageID(msg))
	require.NoError(t, err)
	assert.True(t, done)

	state, err := machine.State(ctx)
	require.NoError(t, err)
	want := models.PositiveTestResult{Symptoms: models.NewSymptoms(models.SymptomCough), StartDate: onset}
	assert.True(t, models.StatesEqual(want, state), "got %#v", state)
}
