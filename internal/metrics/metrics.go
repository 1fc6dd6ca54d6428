package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rubeho_http_request_duration_ms",
		Help:    "Annotation server request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"method"})
	AnnotationsAddedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rubeho_annotations_added_total",
		Help: "Annotations recorded from map clicks, by type",
	}, []string{"type"})
	AnnotationClearsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rubeho_annotation_clears_total",
		Help: "Clear-all actions",
	})
	ImportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rubeho_annotation_imports_total",
		Help: "CSV imports by result (ok|error)",
	}, []string{"result"})
	ExportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rubeho_annotation_exports_total",
		Help: "Downloads by format (csv|html)",
	}, []string{"format"})
	PlanRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rubeho_plan_runs_total",
		Help: "Coverage plan runs by result (ok|error)",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(AnnotationsAddedTotal)
	prometheus.MustRegister(AnnotationClearsTotal)
	prometheus.MustRegister(ImportsTotal)
	prometheus.MustRegister(ExportsTotal)
	prometheus.MustRegister(PlanRunsTotal)
}

// 文档注释：返回 Prometheus 指标处理器，由标注服务挂载到 /metrics
func Handler() http.Handler { return promhttp.Handler() }

// Push：短生命周期命令把计数推送到 Pushgateway，同一 job 的旧值被整体替换
func Push(ctx context.Context, gatewayURL, job string, cs ...prometheus.Collector) error {
	p := push.New(gatewayURL, job)
	for _, c := range cs {
		p = p.Collector(c)
	}
	return p.PushContext(ctx)
}
