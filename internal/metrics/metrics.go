// Package metrics exposes Prometheus instrumentation for the HTTP
// layer and the trading engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gobsvault_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gobsvault_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	tradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gobsvault_trades_total",
		Help: "Executed trades by type and symbol.",
	}, []string{"type", "symbol"})

	tradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gobsvault_trade_volume_usd_total",
		Help: "Executed trade notional in USD by type and symbol.",
	}, []string{"type", "symbol"})
)

// TradeExecuted records one completed trade
func TradeExecuted(tradeType, symbol string, totalUSD decimal.Decimal) {
	tradesTotal.WithLabelValues(tradeType, symbol).Inc()
	volume, _ := totalUSD.Float64()
	tradeVolume.WithLabelValues(tradeType, symbol).Add(volume)
}

// Handler serves the Prometheus scrape endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments every request, labelling by the mux route
// template so path parameters don't explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
