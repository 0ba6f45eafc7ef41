package funding

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"Chronos/internal/domain/models"
	domrepo "Chronos/internal/domain/repository"
	xhttp "Chronos/pkg/http"
)

const premiumIndexPath = "/fapi/v1/premiumIndex"

var ErrNoFundingRate = errors.New("funding: response carries no lastFundingRate")

// Client reads the perpetual funding rate from a Binance-compatible
// premiumIndex endpoint.
type Client struct {
	baseURL  string
	symbol   string
	attempts int
	client   *xhttp.Client
	now      func() time.Time
}

type Option func(*Client)

// WithAttempts retries transport and status failures up to n times in total.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(baseURL, symbol string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("funding: base url is required")
	}
	if symbol == "" {
		return nil, fmt.Errorf("funding: symbol is required")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		symbol:   symbol,
		attempts: 2,
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithUserAgent("chronos-funding")),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// FetchFundingRate returns the last settled funding rate. The venue's own
// timestamp is used when present.
func (c *Client) FetchFundingRate(ctx context.Context) (models.FundingRate, error) {
	body, err := c.getWithRetry(ctx)
	if err != nil {
		return models.FundingRate{}, err
	}
	return c.parse(body)
}

func (c *Client) parse(body []byte) (models.FundingRate, error) {
	if !gjson.ValidBytes(body) {
		return models.FundingRate{}, fmt.Errorf("funding: invalid json body")
	}
	if code := gjson.GetBytes(body, "code"); code.Exists() && code.Int() != 0 {
		return models.FundingRate{}, fmt.Errorf("funding: venue error %d: %s", code.Int(), gjson.GetBytes(body, "msg").String())
	}
	r := gjson.GetBytes(body, "lastFundingRate")
	if !r.Exists() || r.String() == "" {
		return models.FundingRate{}, ErrNoFundingRate
	}
	at := c.now()
	if ts := gjson.GetBytes(body, "time"); ts.Exists() && ts.Int() > 0 {
		at = time.UnixMilli(ts.Int()).UTC()
	}
	return models.FundingRate{Rate: r.Float(), At: at}, nil
}

func (c *Client) get(ctx context.Context) ([]byte, error) {
	body, err := c.client.GetJSON(ctx, c.baseURL+premiumIndexPath, url.Values{"symbol": {c.symbol}})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", premiumIndexPath, err)
	}
	return body, nil
}

// retryable keeps 4xx replies from being retried; the venue rejected the
// request itself.
func retryable(err error) bool {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

func (c *Client) getWithRetry(ctx context.Context) ([]byte, error) {
	var err error
	for i := 1; i <= c.attempts; i++ {
		var body []byte
		body, err = c.get(ctx)
		if err == nil {
			return body, nil
		}
		if i == c.attempts || !retryable(err) || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, err
}

var _ domrepo.FundingSource = (*Client)(nil)
