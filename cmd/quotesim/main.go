// quotesim serves a Finnhub-compatible /quote endpoint with random-walk
// prices so streamd can run locally without a provider key. Point
// PROVIDER_BASE_URL at it.
package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var basePrices = map[string]float64{
	"AAPL": 150.0, "GOOGL": 2800.0, "TSLA": 700.0, "AMZN": 3400.0, "MSFT": 410.0,
}

type quotePayload struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Volume        int64   `json:"v"`
	Timestamp     int64   `json:"t"`
}

type simulator struct {
	mu     sync.Mutex
	prices map[string]float64
	rand   *rand.Rand
}

func newSimulator() *simulator {
	prices := make(map[string]float64, len(basePrices))
	for sym, p := range basePrices {
		prices[sym] = p
	}
	return &simulator{
		prices: prices,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next advances the symbol's random walk and returns a full quote. Unknown
// symbols start at an arbitrary base so any ticker can be simulated.
func (s *simulator) next(symbol string) quotePayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.prices[symbol]
	if !ok {
		prev = 100.0
	}
	fluctuation := (s.rand.Float64() * 10) - 5
	price := prev + fluctuation
	if price < 1 {
		price = 1
	}
	s.prices[symbol] = price

	return quotePayload{
		Current:       price,
		Change:        price - prev,
		ChangePercent: (price - prev) / prev * 100,
		High:          price + s.rand.Float64()*2,
		Low:           price - s.rand.Float64()*2,
		Open:          prev,
		PreviousClose: prev,
		Volume:        int64(s.rand.Intn(1_000_000)),
		Timestamp:     time.Now().Unix(),
	}
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	port := os.Getenv("QUOTESIM_PORT")
	if port == "" {
		port = ":8090"
	}

	sim := newSimulator()

	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
		if symbol == "" {
			http.Error(w, "symbol is required", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sim.next(symbol))
	})

	srv := &http.Server{Addr: port, Handler: mux}

	go func() {
		logger.Info("Quote simulator started", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	srv.Shutdown(context.Background())
	logger.Info("Shutdown Complete")
}
