package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HistogramBuckets covers fast API calls up to slow processor round-trips,
// in milliseconds.
var HistogramBuckets = []float64{
	25, 50, 75, 100, 150, 200, 300, 400, 500,
	750, 1000, 1500, 2000,
	3000, 5000, 7500, 10000, 15000,
	30000, 60000,
}

// Prometheus instruments the HTTP surface and the billing domain.
type Prometheus struct {
	registry *prometheus.Registry

	reqCnt *prometheus.CounterVec
	reqDur *prometheus.HistogramVec

	WebhookEvents   *prometheus.CounterVec // labels: type, outcome
	Reconciliations *prometheus.CounterVec // labels: source (admin|processor|record|trial|cache)
	CheckoutsTotal  *prometheus.CounterVec // labels: item_type

	listenAddr string
	log        *zap.SugaredLogger
}

func NewPrometheus(log *zap.SugaredLogger) *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		reqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "billing",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by status, method and path.",
		}, []string{"code", "method", "path"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "billing",
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   HistogramBuckets,
		}, []string{"method", "path"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Processed webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "billing",
			Name:      "reconciliations_total",
			Help:      "Plan reconciliations by winning source tier.",
		}, []string{"source"}),
		CheckoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "billing",
			Name:      "checkout_sessions_total",
			Help:      "Checkout sessions created by item type.",
		}, []string{"item_type"}),
		log: log,
	}
	p.registry.MustRegister(p.reqCnt, p.reqDur, p.WebhookEvents, p.Reconciliations, p.CheckoutsTotal)
	return p
}

func (p *Prometheus) SetListenAddress(addr string) { p.listenAddr = addr }

// Use attaches the HTTP middleware to the engine and, when a listen address
// is configured, serves /metrics on its own listener.
func (p *Prometheus) Use(r *gin.Engine) {
	r.Use(p.handlerFunc())
	if p.listenAddr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(p.listenAddr, mux); err != nil {
			p.log.Errorw("metrics listener stopped", "err", err)
		}
	}()
}

func (p *Prometheus) handlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		p.reqCnt.WithLabelValues(strconv.Itoa(c.Writer.Status()), c.Request.Method, path).Inc()
		p.reqDur.WithLabelValues(c.Request.Method, path).Observe(float64(time.Since(start).Milliseconds()))
	}
}
