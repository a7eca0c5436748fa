package metrics

import (
	"github.com/san-kum/mdao/internal/recorder"
)

// Collector feeds every recorded case to its metrics.
type Collector struct {
	metrics []Metric
}

func NewCollector(metrics ...Metric) *Collector {
	return &Collector{metrics: metrics}
}

// Defaults returns the metrics every run reports. objective may be empty.
func Defaults(objective string) []Metric {
	ms := []Metric{NewCaseCount(), NewSuccessRate(), NewResidualNorm()}
	if objective != "" {
		ms = append(ms, NewObjectiveMin(objective))
	}
	return ms
}

func (c *Collector) Add(m Metric) {
	c.metrics = append(c.metrics, m)
}

func (c *Collector) Startup(meta recorder.Metadata) error {
	for _, m := range c.metrics {
		m.Reset()
	}
	return nil
}

func (c *Collector) Record(cs *recorder.Case) error {
	for _, m := range c.metrics {
		m.Observe(cs)
	}
	return nil
}

func (c *Collector) Close() error {
	return nil
}

// Values reports every metric by name.
func (c *Collector) Values() map[string]float64 {
	out := make(map[string]float64, len(c.metrics))
	for _, m := range c.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}
