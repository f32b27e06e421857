package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	QueueSize          *prometheus.GaugeVec
	ModActions         *prometheus.CounterVec
	UserComments       *prometheus.CounterVec
	BackfillComments   *prometheus.CounterVec
	ClassifierWarnings *prometheus.CounterVec
	QueueActions       *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	CycleErrors        *prometheus.CounterVec
}

// Registers the engine's metrics with reg. Tests pass a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "modbot_queue_size",
			Help: "Depth of moderation queues, by type",
		}, []string{"type", "community"}),
		ModActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbot_mod_actions",
			Help: "Number of new moderation log entries ingested",
		}, []string{"moderator", "community"}),
		UserComments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbot_user_comments",
			Help: "Comments ingested for restricted thread tracking, by result",
		}, []string{"community", "result"}),
		BackfillComments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbot_backfill_comments",
			Help: "Comments processed by karma backfill, by result",
		}, []string{"community", "result"}),
		ClassifierWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbot_classifier_warnings",
			Help: "Moderation log entries flagged by the classifier",
		}, []string{"community", "code"}),
		QueueActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbot_queue_actions",
			Help: "Automated actions taken on queue items",
		}, []string{"community", "action"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "modbot_cycle_duration_sec",
			Help:    "Duration of a full polling cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		CycleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "modbot_cycle_errors",
			Help: "Failed cycle steps, by community",
		}, []string{"community"}),
	}
}
