package collect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrumentation exposes collection-run counters. A nil receiver disables
// all recording, so the collector never needs to branch on configuration.
type Instrumentation struct {
	apiCalls       *prometheus.CounterVec
	entities       *prometheus.CounterVec
	quotaRemaining prometheus.Gauge
}

// NewInstrumentation registers collection metrics on the given registerer.
func NewInstrumentation(registerer prometheus.Registerer) *Instrumentation {
	factory := promauto.With(registerer)
	return &Instrumentation{
		apiCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gdfm_api_calls_total",
			Help: "Logical GitHub API fetches issued, by resource.",
		}, []string{"resource"}),
		entities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gdfm_entities_collected_total",
			Help: "Entities attempted, by kind and completeness.",
		}, []string{"kind", "completeness"}),
		quotaRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gdfm_quota_remaining",
			Help: "Last observed remaining GitHub API quota.",
		}),
	}
}

func (i *Instrumentation) observeCall(resource string) {
	if i == nil {
		return
	}
	i.apiCalls.WithLabelValues(resource).Inc()
}

func (i *Instrumentation) observeEntity(kind, completeness string) {
	if i == nil {
		return
	}
	i.entities.WithLabelValues(kind, completeness).Inc()
}

func (i *Instrumentation) setQuotaRemaining(remaining int) {
	if i == nil {
		return
	}
	i.quotaRemaining.Set(float64(remaining))
}
