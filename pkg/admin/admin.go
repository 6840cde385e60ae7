// Package admin serves an opt-in HTTP dashboard over a running
// router's state: a JSON destination snapshot and a Prometheus
// exposition endpoint. It never touches the router's request-handling
// path or its mutex beyond the read-only snapshot Router.Snapshot
// already takes under lock.
//
// Grounded on PauloMaced0-Load-Balancer's cmd/server/http_server.go for
// the gin wiring and on Pranshu258-OpenPrequal's src/metrics.go for the
// prometheus registration pattern; both repos use these libraries for
// an HTTP side-channel rather than the core dispatch transport, which
// is the role this package plays here too.
package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"edgedispatch/pkg/dispatch"
)

// Source is the subset of Router the dashboard needs; satisfied by
// *dispatch.Router.
type Source interface {
	Snapshot() []dispatch.DestinationSnapshot
	AlgorithmName() string
}

// Server is the admin HTTP surface, wrapping a gin engine.
type Server struct {
	engine  *gin.Engine
	metrics *metricsSet
}

type metricsSet struct {
	weight      *prometheus.GaugeVec
	deficit     *prometheus.GaugeVec
	backoff     *prometheus.GaugeVec
	activeSize  prometheus.Gauge
	routedTotal *prometheus.CounterVec
}

// newMetricsSet registers its gauges/counter into a private registry
// rather than prometheus's global DefaultRegisterer, so that multiple
// Servers (one per router process, or one per test) never collide on
// duplicate metric registration.
func newMetricsSet() (*metricsSet, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	m := &metricsSet{
		weight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edgedispatch_destination_weight_seconds",
			Help: "Smoothed latency weight for a destination.",
		}, []string{"port"}),
		deficit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edgedispatch_destination_deficit",
			Help: "Deficit-round-robin credit for a destination.",
		}, []string{"port"}),
		backoff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edgedispatch_destination_backoff_seconds",
			Help: "Current re-probe backoff for a destination.",
		}, []string{"port"}),
		activeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgedispatch_active_set_size",
			Help: "Number of destinations currently in the RR active set.",
		}),
		routedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgedispatch_routed_tasks_total",
			Help: "Total tasks the dispatch pipeline has routed to a destination.",
		}, []string{"port"}),
	}
	reg.MustRegister(m.weight, m.deficit, m.backoff, m.activeSize, m.routedTotal)
	return m, reg
}

// New builds the admin engine, wiring /destinations and /metrics.
func New(src Source, log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	metrics, reg := newMetricsSet()
	s := &Server{engine: engine, metrics: metrics}

	engine.GET("/destinations", func(c *gin.Context) {
		snap := src.Snapshot()
		s.publish(snap)
		c.JSON(http.StatusOK, gin.H{
			"algorithm":    src.AlgorithmName(),
			"destinations": snap,
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return s
}

// Handler exposes the underlying http.Handler, letting callers embed
// the admin surface in their own httptest servers without binding a
// real port (as Run does).
func (s *Server) Handler() http.Handler {
	return s.engine
}

// publish mirrors a snapshot into the Prometheus gauges; called on
// every /destinations request since the router has no push hook.
func (s *Server) publish(snap []dispatch.DestinationSnapshot) {
	active := 0
	for _, d := range snap {
		port := portLabel(d.Port)
		s.metrics.weight.WithLabelValues(port).Set(d.Weight)
		s.metrics.deficit.WithLabelValues(port).Set(d.Deficit)
		s.metrics.backoff.WithLabelValues(port).Set(d.Backoff)
		if d.InActiveSet {
			active++
		}
	}
	s.metrics.activeSize.Set(float64(active))
}

// RecordRouted satisfies dispatch.RouteRecorder: it is called once per
// task the dispatch pipeline actually routes to a destination (spec.md
// §4.1 step 7, after Update), not once per /destinations scrape. Wire
// this in with dispatch.Server.SetRecorder.
func (s *Server) RecordRouted(port uint16) {
	s.metrics.routedTotal.WithLabelValues(portLabel(port)).Inc()
}

// Run blocks serving the admin dashboard on addr (e.g. "127.0.0.1:9090").
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func portLabel(port uint16) string {
	return strconv.Itoa(int(port))
}
