package usecase

import (
	"context"
	"time"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	"Chronos/pkg/logger"
)

type fundingSink interface {
	SetFunding(models.FundingRate)
}

// FundingPoller pulls the funding rate on a schedule. Failures keep the last
// value, which ages out through the fusion staleness check.
type FundingPoller struct {
	source   domrepo.FundingSource
	sink     fundingSink
	interval time.Duration
	timeout  time.Duration
	metrics  domrepo.Metrics
	log      *logger.Logger
}

func NewFundingPoller(source domrepo.FundingSource, sink fundingSink, interval, timeout time.Duration, metrics domrepo.Metrics, log *logger.Logger) *FundingPoller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FundingPoller{source: source, sink: sink, interval: interval, timeout: timeout, metrics: metrics, log: log}
}

func (p *FundingPoller) Run(ctx context.Context) error {
	p.Poll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches once and forwards the rate on success.
func (p *FundingPoller) Poll(ctx context.Context) bool {
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rate, err := p.source.FetchFundingRate(fctx)
	if err != nil {
		p.metrics.RecordError("funding_fetch")
		p.log.Warn("funding rate fetch failed", logger.Error(err))
		return false
	}
	p.metrics.RecordEvent("funding")
	p.sink.SetFunding(rate)
	return true
}
