package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bblair31/marketViz-backend/pkg/models"
)

// Compile-time check to ensure Client implements MarketDataProvider
var _ MarketDataProvider = (*Client)(nil)

// Client talks to a Finnhub-compatible /quote endpoint.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// quoteResponse mirrors the upstream quote shape.
type quoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Volume        int64   `json:"v"`
	Timestamp     int64   `json:"t"` // unix seconds
}

func (c *Client) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s&token=%s",
		c.baseURL, url.QueryEscape(symbol), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Quote{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Quote{}, fmt.Errorf("quote fetch for %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Quote{}, fmt.Errorf("quote fetch for %s: unexpected status %d", symbol, resp.StatusCode)
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return models.Quote{}, fmt.Errorf("quote fetch for %s: decode: %w", symbol, err)
	}

	// The upstream answers unknown symbols with an all-zero body.
	if qr.Current == 0 && qr.PreviousClose == 0 && qr.Timestamp == 0 {
		return models.Quote{}, fmt.Errorf("no quote data for %s", symbol)
	}

	ts := qr.Timestamp * 1000
	if qr.Timestamp == 0 {
		ts = time.Now().UnixMilli()
	}

	return models.Quote{
		Symbol:        symbol,
		Price:         qr.Current,
		Change:        qr.Change,
		ChangePercent: qr.ChangePercent,
		Volume:        qr.Volume,
		High:          qr.High,
		Low:           qr.Low,
		Open:          qr.Open,
		PreviousClose: qr.PreviousClose,
		Timestamp:     ts,
	}, nil
}
