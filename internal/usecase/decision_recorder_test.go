package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Chronos/internal/domain/models"
)

type memStore struct {
	mu      sync.Mutex
	batches [][]models.DecisionRecord
	err     error
	closed  bool
}

func (s *memStore) Init(context.Context) error { return nil }

func (s *memStore) StoreBatch(_ context.Context, recs []models.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]models.DecisionRecord(nil), recs...))
	return s.err
}

func (s *memStore) PublishDecisions(ctx context.Context, recs []models.DecisionRecord) error {
	return s.StoreBatch(ctx, recs)
}

func (s *memStore) Close() error {
	s.closed = true
	return nil
}

func (s *memStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func rec(v uint64) models.DecisionRecord {
	return models.DecisionRecord{Symbol: "BTC_KRW", Vector: models.SignalVector{Version: v}, At: t0}
}

func TestNewDecisionRecorderValidatesBackend(t *testing.T) {
	j, p, m := &memStore{}, &memStore{}, newMetrics()

	_, err := NewDecisionRecorder(j, nil, m, nil, JournalClickHouse, 2, time.Hour, 0)
	assert.NoError(t, err)
	_, err = NewDecisionRecorder(nil, p, m, nil, JournalClickHouse, 2, time.Hour, 0)
	assert.Error(t, err)

	_, err = NewDecisionRecorder(nil, p, m, nil, JournalKafka, 2, time.Hour, 0)
	assert.NoError(t, err)
	_, err = NewDecisionRecorder(j, nil, m, nil, JournalKafka, 2, time.Hour, 0)
	assert.Error(t, err)

	_, err = NewDecisionRecorder(j, p, m, nil, JournalBoth, 2, time.Hour, 0)
	assert.NoError(t, err)
	_, err = NewDecisionRecorder(j, nil, m, nil, JournalBoth, 2, time.Hour, 0)
	assert.Error(t, err)

	_, err = NewDecisionRecorder(j, p, m, nil, "s3", 2, time.Hour, 0)
	assert.Error(t, err)
}

func TestRecorderProcessBatchWritesBothBackends(t *testing.T) {
	j := &memStore{err: errors.New("insert failed")}
	p := &memStore{}
	m := newMetrics()
	r, err := NewDecisionRecorder(j, p, m, nil, JournalBoth, 10, time.Hour, 0)
	require.NoError(t, err)

	err = r.ProcessBatch(context.Background(), []models.DecisionRecord{rec(1), rec(2)})
	assert.ErrorContains(t, err, "clickhouse")
	assert.Equal(t, 2, p.total())
	assert.Equal(t, 1, m.errorCount("journal_batch"))

	assert.NoError(t, r.ProcessBatch(context.Background(), nil))
	require.NoError(t, r.Close())
	assert.True(t, j.closed)
}

func TestRecorderFlushesBySizeAndDrainsOnStop(t *testing.T) {
	j := &memStore{}
	r, err := NewDecisionRecorder(j, nil, newMetrics(), nil, JournalClickHouse, 2, time.Hour, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Record(rec(1))
	r.Record(rec(2))
	require.Eventually(t, func() bool { return j.total() == 2 }, time.Second, time.Millisecond)

	r.Record(rec(3))
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 3, j.total())
}

func TestRecorderDropsWhenBufferFull(t *testing.T) {
	m := newMetrics()
	r, err := NewDecisionRecorder(&memStore{}, nil, m, nil, JournalClickHouse, 1, time.Hour, 1)
	require.NoError(t, err)

	r.Record(rec(1))
	r.Record(rec(2))
	assert.Equal(t, 1, m.errorCount("journal_buffer_full"))
}
