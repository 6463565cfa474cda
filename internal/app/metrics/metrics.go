package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marcasino"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	betsRevealed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betting",
			Name:      "bets_revealed_total",
			Help:      "Bets that passed reveal and were charged.",
		},
		[]string{"game"},
	)

	betsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betting",
			Name:      "bets_settled_total",
			Help:      "Settled bets by result.",
		},
		[]string{"game", "result"},
	)

	payoutUnits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betting",
			Name:      "payout_units_total",
			Help:      "Net base units credited to winners.",
		},
		[]string{"game"},
	)

	requestRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "betting",
			Name:      "request_recoveries_total",
			Help:      "Timed out randomness requests that were retried or refunded.",
		},
		[]string{"game", "action"},
	)

	lotteryTickets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lottery",
			Name:      "tickets_sold_total",
			Help:      "Lottery tickets sold.",
		},
	)

	lotteryDraws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lottery",
			Name:      "draws_total",
			Help:      "Lottery draw transitions.",
		},
		[]string{"stage"},
	)

	vrfFulfilments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "fulfilments_total",
			Help:      "Randomness fulfilments delivered to consumers.",
		},
		[]string{"consumer", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		betsRevealed,
		betsSettled,
		payoutUnits,
		requestRecoveries,
		lotteryTickets,
		lotteryDraws,
		vrfFulfilments,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordReveal counts a charged bet.
func RecordReveal(game string) {
	betsRevealed.WithLabelValues(game).Inc()
}

// RecordSettlement counts a settled bet and the net amount paid.
func RecordSettlement(game string, won bool, payout int64) {
	result := "lost"
	if won {
		result = "won"
		payoutUnits.WithLabelValues(game).Add(float64(payout))
	}
	betsSettled.WithLabelValues(game, result).Inc()
}

// RecordRecovery counts a retry or refund of a timed out request.
func RecordRecovery(game, action string) {
	requestRecoveries.WithLabelValues(game, action).Inc()
}

// RecordTickets counts sold lottery tickets.
func RecordTickets(count uint64) {
	lotteryTickets.Add(float64(count))
}

// RecordDraw counts a lottery draw stage: requested, retried or settled.
func RecordDraw(stage string) {
	lotteryDraws.WithLabelValues(stage).Inc()
}

// RecordFulfilment counts a randomness delivery.
func RecordFulfilment(consumer string, success bool) {
	if consumer == "" {
		consumer = "unknown"
	}
	vrfFulfilments.WithLabelValues(consumer, strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath collapses ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "games":
		if len(parts) == 1 {
			return "/games"
		}
		if len(parts) == 2 {
			return "/games/:game"
		}
		return "/games/:game/" + parts[2]
	case "lottery", "treasury", "admin", "vrf":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		return "/" + parts[0] + "/" + parts[1]
	default:
		return "/" + parts[0]
	}
}
