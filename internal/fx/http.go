package fx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const maxRateResponseBytes = 64 << 10

// HTTPProvider queries a rates endpoint of the form
// GET {base}?from=USD&to=NGN&date=2026-10-01 returning {"rate": "1500.25"}.
// The rate may be a JSON string or number; "data.rate" is accepted as well.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("from", strings.ToUpper(from))
	q.Set("to", strings.ToUpper(to))
	q.Set("date", asOf.UTC().Format(time.DateOnly))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("building rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("requesting rate %s/%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRateResponseBytes))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("reading rate response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Decimal{}, ErrRateNotFound
	case resp.StatusCode != http.StatusOK:
		return decimal.Decimal{}, fmt.Errorf("rate service error: %s", resp.Status)
	}

	field := gjson.GetBytes(body, "rate")
	if !field.Exists() {
		field = gjson.GetBytes(body, "data.rate")
	}
	if !field.Exists() {
		return decimal.Decimal{}, fmt.Errorf("rate missing from response")
	}

	rate, err := decimal.NewFromString(field.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing rate %q: %w", field.String(), err)
	}
	if !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive rate %s for %s/%s", rate, from, to)
	}
	return rate, nil
}
