// Package metrics exports provider activity to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	idp "github.com/goliatone/go-idp"
)

const namespace = "idp"

// ActivityCollector is an idp.ActivitySink that counts events.
type ActivityCollector struct {
	events *prometheus.CounterVec
	tokens *prometheus.CounterVec
}

var _ idp.ActivitySink = (*ActivityCollector)(nil)

// NewActivityCollector creates the collectors and registers them with reg.
func NewActivityCollector(reg prometheus.Registerer) (*ActivityCollector, error) {
	c := &ActivityCollector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_events_total",
			Help:      "Activity events by type and outcome.",
		}, []string{"event", "outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_requests_total",
			Help:      "Token endpoint outcomes by grant type.",
		}, []string{"grant_type", "outcome"}),
	}

	for _, col := range []prometheus.Collector{c.events, c.tokens} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *ActivityCollector) Record(_ context.Context, event idp.ActivityEvent) error {
	outcome := event.Outcome
	if outcome == "" {
		outcome = "unknown"
	}

	c.events.WithLabelValues(string(event.EventType), outcome).Inc()

	switch event.EventType {
	case idp.ActivityEventTokenIssued, idp.ActivityEventTokenRejected:
		grant := event.GrantType
		if grant == "" {
			grant = "unknown"
		}
		c.tokens.WithLabelValues(grant, outcome).Inc()
	}
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
