package rate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"resty.dev/v3"
)

// JSONSource reads a rate from an HTTP JSON API.  The URL may contain a
// {pair} placeholder.  The body is searched for the first of rate, price,
// promedio or rates.usd, as a number or a numeric string.
type JSONSource struct {
	name string
	url  string
	http *resty.Client
}

func NewJSONSource(name, url string, timeout time.Duration) *JSONSource {
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &JSONSource{name: name, url: url, http: c}
}

func (s *JSONSource) Name() string { return s.name }

// Close releases the underlying HTTP client.
func (s *JSONSource) Close() error { return s.http.Close() }

func (s *JSONSource) Fetch(ctx context.Context, pair string) (decimal.Decimal, error) {
	url := strings.ReplaceAll(s.url, "{pair}", pair)
	resp, err := s.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", s.name, err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("%s: status %d", s.name, resp.StatusCode())
	}
	return extractRate([]byte(resp.String()))
}

var rateKeys = []string{"rate", "price", "promedio"}

func extractRate(body []byte) (decimal.Decimal, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate body: %w", err)
	}
	for _, k := range rateKeys {
		if v, ok := doc[k]; ok {
			return toDecimal(v)
		}
	}
	if rates, ok := doc["rates"].(map[string]interface{}); ok {
		if v, ok := rates["usd"]; ok {
			return toDecimal(v)
		}
	}
	return decimal.Zero, fmt.Errorf("no rate field in body")
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		// some feeds answer "36,45"
		return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(x), ",", "."))
	}
	return decimal.Zero, fmt.Errorf("unexpected rate value %v", v)
}
