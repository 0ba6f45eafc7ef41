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

type fundingFeed struct {
	mu    sync.Mutex
	rates []models.FundingRate
	err   error
	calls int
}

func (f *fundingFeed) FetchFundingRate(ctx context.Context) (models.FundingRate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return models.FundingRate{}, errors.New("no deadline")
	}
	return models.FundingRate{Rate: 0.0002, At: t0}, f.err
}

func (f *fundingFeed) SetFunding(r models.FundingRate) {
	f.mu.Lock()
	f.rates = append(f.rates, r)
	f.mu.Unlock()
}

func (f *fundingFeed) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, len(f.rates)
}

func TestFundingPollForwardsRate(t *testing.T) {
	feed := &fundingFeed{}
	p := NewFundingPoller(feed, feed, time.Hour, time.Second, newMetrics(), nil)

	require.True(t, p.Poll(context.Background()))
	require.Len(t, feed.rates, 1)
	assert.Equal(t, 0.0002, feed.rates[0].Rate)
}

func TestFundingPollKeepsLastValueOnError(t *testing.T) {
	feed := &fundingFeed{err: errors.New("503")}
	m := newMetrics()
	p := NewFundingPoller(feed, feed, time.Hour, time.Second, m, nil)

	assert.False(t, p.Poll(context.Background()))
	assert.Empty(t, feed.rates)
	assert.Equal(t, 1, m.errorCount("funding_fetch"))
}

func TestFundingPollerPollsImmediatelyOnRun(t *testing.T) {
	feed := &fundingFeed{}
	p := NewFundingPoller(feed, feed, time.Hour, time.Second, newMetrics(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, n := feed.count()
		return n == 1
	}, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
