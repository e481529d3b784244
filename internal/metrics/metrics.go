package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "proxyadmin"

// Collector records configuration service activity for Prometheus. A nil
// *Collector is valid and records nothing.
type Collector struct {
	saves       *prometheus.CounterVec
	violations  prometheus.Counter
	listToggles *prometheus.CounterVec
	reloads     *prometheus.CounterVec
	lastReload  prometheus.Gauge
}

// NewCollector creates the collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_saves_total",
			Help:      "Configuration save attempts by outcome (ok, invalid, failed).",
		}, []string{"result"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_violations_total",
			Help:      "Validation violations reported for rejected configurations.",
		}),
		listToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_toggles_total",
			Help:      "Whitelist/blacklist enable and disable calls.",
		}, []string{"kind", "enabled"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Configuration reloads by outcome.",
		}, []string{"result"}),
		lastReload: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reload_success_timestamp_seconds",
			Help:      "Unix time of the last successful reload.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.saves, c.violations, c.listToggles, c.reloads, c.lastReload)
	}
	return c
}

// Save outcomes.
const (
	SaveOK      = "ok"
	SaveInvalid = "invalid"
	SaveFailed  = "failed"
)

// RecordSave counts one save attempt. violations is only meaningful for
// SaveInvalid.
func (c *Collector) RecordSave(result string, violations int) {
	if c == nil {
		return
	}
	c.saves.WithLabelValues(result).Inc()
	if violations > 0 {
		c.violations.Add(float64(violations))
	}
}

// RecordListToggle counts one list enable/disable call.
func (c *Collector) RecordListToggle(kind string, enabled bool) {
	if c == nil {
		return
	}
	c.listToggles.WithLabelValues(kind, strconv.FormatBool(enabled)).Inc()
}

// RecordReload counts a reload and stamps the time of successful ones.
func (c *Collector) RecordReload(success bool, at time.Time) {
	if c == nil {
		return
	}
	if !success {
		c.reloads.WithLabelValues("failed").Inc()
		return
	}
	c.reloads.WithLabelValues("ok").Inc()
	c.lastReload.Set(float64(at.Unix()))
}
