package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bblair31/marketViz-backend/cmd/streamd/internal/provider"
)

func TestClient_GetQuoteMapsFields(t *testing.T) {
	var gotPath, gotSymbol, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSymbol = r.URL.Query().Get("symbol")
		gotToken = r.URL.Query().Get("token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"c":150.25,"d":1.5,"dp":1.01,"h":151,"l":148.5,"o":149,"pc":148.75,"v":42000,"t":1756130400}`))
	}))
	defer srv.Close()

	c := provider.NewClient(srv.URL, "test-key", 2*time.Second)
	q, err := c.GetQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("get quote: %v", err)
	}

	if gotPath != "/quote" || gotSymbol != "AAPL" || gotToken != "test-key" {
		t.Errorf("unexpected request: path=%s symbol=%s token=%s", gotPath, gotSymbol, gotToken)
	}
	if q.Symbol != "AAPL" || q.Price != 150.25 || q.PreviousClose != 148.75 || q.Volume != 42000 {
		t.Errorf("field mapping wrong: %+v", q)
	}
	if q.Timestamp != 1756130400*1000 {
		t.Errorf("timestamp must convert to millis, got %d", q.Timestamp)
	}
}

func TestClient_GetQuoteErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"upstream 5xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"unknown symbol zero body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"c":0,"d":0,"dp":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{broken`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			c := provider.NewClient(srv.URL, "k", time.Second)
			if _, err := c.GetQuote(context.Background(), "ZZZZ"); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}
