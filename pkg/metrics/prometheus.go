package metrics

// Gin middleware adapted from github.com/zsais/go-gin-prometheus: no push
// gateway, zap logging, requests labelled by their route template.

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultSubsystem   = "http"
	defaultMetricsPath = "/metrics"
)

var requestLabels = []string{"code", "method", "url"}

type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Errorf(format string, v ...interface{})
}

type NewPrometheusOptions struct {
	Subsystem               string
	MetricsPath             string
	ReqCntURLLabelMappingFn func(c *gin.Context) string
	Logger                  Logger
}

// Prometheus records request count, latency and sizes for a gin engine.
type Prometheus struct {
	reqCnt       *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	reqSz, resSz *prometheus.SummaryVec

	metricsPath   string
	listenAddress string
	urlLabel      func(c *gin.Context) string
	logger        Logger
}

func NewPrometheus(options NewPrometheusOptions) *Prometheus {
	p := &Prometheus{
		metricsPath: options.MetricsPath,
		urlLabel:    options.ReqCntURLLabelMappingFn,
		logger:      options.Logger,
	}
	if p.metricsPath == "" {
		p.metricsPath = defaultMetricsPath
	}
	if p.urlLabel == nil {
		p.urlLabel = func(c *gin.Context) string {
			if route := c.FullPath(); route != "" {
				return route
			}
			return "unmatched"
		}
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}
	subsystem := options.Subsystem
	if subsystem == "" {
		subsystem = defaultSubsystem
	}

	p.reqCnt = register(p.logger, &Metric{
		Name:        "requests_total",
		Description: "HTTP requests processed, partitioned by status code, method and route.",
		Type:        MetricTypeCounterVec,
		Labels:      requestLabels,
	}, subsystem).(*prometheus.CounterVec)
	p.reqDur = register(p.logger, &Metric{
		Name:        "request_duration_ms",
		Description: "HTTP request latencies in milliseconds.",
		Type:        MetricTypeHistogramVec,
		Labels:      requestLabels,
	}, subsystem).(*prometheus.HistogramVec)
	p.reqSz = register(p.logger, &Metric{
		Name:        "request_size_bytes",
		Description: "Approximate HTTP request sizes in bytes.",
		Type:        MetricTypeSummaryVec,
		Labels:      requestLabels,
	}, subsystem).(*prometheus.SummaryVec)
	p.resSz = register(p.logger, &Metric{
		Name:        "response_size_bytes",
		Description: "HTTP response sizes in bytes.",
		Type:        MetricTypeSummaryVec,
		Labels:      requestLabels,
	}, subsystem).(*prometheus.SummaryVec)
	return p
}

// register returns the already registered collector when m was registered before.
func register(log Logger, m *Metric, subsystem string) prometheus.Collector {
	c := NewMetric(m, subsystem)
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			c = already.ExistingCollector
		} else {
			log.Errorf("%s could not be registered in Prometheus, err=%v", m.Name, err)
		}
	}
	m.Collector = c
	return c
}

// SetListenAddress serves the metrics endpoint on its own listener instead of the API engine.
func (p *Prometheus) SetListenAddress(address string) {
	p.listenAddress = address
}

// Use adds the middleware to e and exposes the metrics endpoint.
func (p *Prometheus) Use(e *gin.Engine) {
	e.Use(p.HandlerFunc())
	if p.listenAddress == "" {
		e.GET(p.metricsPath, prometheusHandler())
		return
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(p.metricsPath, prometheusHandler())
	go func() {
		p.logger.Infow("metrics listener started", "addr", p.listenAddress)
		if err := router.Run(p.listenAddress); err != nil {
			p.logger.Errorf("metrics listener stopped: %v", err)
		}
	}()
}

func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.metricsPath {
			c.Next()
			return
		}

		start := time.Now()
		reqSz := computeApproximateRequestSize(c.Request)

		c.Next()

		labels := []string{strconv.Itoa(c.Writer.Status()), c.Request.Method, p.urlLabel(c)}
		p.reqDur.WithLabelValues(labels...).Observe(MillisecondsSince(start))
		p.reqCnt.WithLabelValues(labels...).Inc()
		p.reqSz.WithLabelValues(labels...).Observe(float64(reqSz))
		p.resSz.WithLabelValues(labels...).Observe(float64(c.Writer.Size()))
	}
}

func prometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MillisecondsSince returns the elapsed time since start in fractional milliseconds.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// computeApproximateRequestSize follows github.com/DanielHeckrath/gin-prometheus.
func computeApproximateRequestSize(r *http.Request) int {
	s := 0
	if r.URL != nil {
		s = len(r.URL.Path)
	}
	s += len(r.Method)
	s += len(r.Proto)
	for name, values := range r.Header {
		s += len(name)
		for _, value := range values {
			s += len(value)
		}
	}
	s += len(r.Host)
	if r.ContentLength != -1 {
		s += int(r.ContentLength)
	}
	return s
}
