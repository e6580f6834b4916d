// Package prom exports a variable directory to Prometheus.
package prom

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andreyvit/vardir"
)

// Collector exposes the numeric and bool storage variables of a directory as
// gauges, plus the directory's operation counters. Function entries are never
// scraped (collection must not run user code), and strings and blobs have no
// numeric value.
//
// Descs are built once at NewCollector; the variable set of a directory is
// fixed after vardir.New, so there is nothing to rebuild at scrape time.
type Collector struct {
	d    *vardir.Directory
	vars []varDesc

	gets  *prometheus.Desc
	sets  *prometheus.Desc
	noops *prometheus.Desc
	calls *prometheus.Desc
}

type varDesc struct {
	v    *vardir.Var
	desc *prometheus.Desc
}

// NewCollector builds a collector for d. Metric names derive from variable
// paths: with namespace "robot", /drive/speed becomes robot_drive_speed, and
// the original path rides along as a "path" label.
func NewCollector(d *vardir.Directory, namespace string) *Collector {
	c := &Collector{d: d}
	for _, v := range d.Vars() {
		if !v.Type().Fixed() {
			continue
		}
		c.vars = append(c.vars, varDesc{
			v: v,
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", sanitize(v.Path())),
				"Current value of "+v.Path()+".",
				nil,
				prometheus.Labels{"path": v.Path()},
			),
		})
	}
	c.gets = opDesc(namespace, "gets_total", "Number of variable reads.")
	c.sets = opDesc(namespace, "sets_total", "Number of value-changing variable writes.")
	c.noops = opDesc(namespace, "noops_total", "Number of writes suppressed because the value did not change.")
	c.calls = opDesc(namespace, "calls_total", "Number of function entry invocations.")
	return c
}

func opDesc(namespace, name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
}

// MustRegister registers c with the default registry.
func MustRegister(c *Collector) {
	prometheus.MustRegister(c)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, vd := range c.vars {
		ch <- vd.desc
	}
	ch <- c.gets
	ch <- c.sets
	ch <- c.noops
	ch <- c.calls
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, vd := range c.vars {
		if f, ok := vd.v.Float(); ok {
			ch <- prometheus.MustNewConstMetric(vd.desc, prometheus.GaugeValue, f)
		}
	}

	st := c.d.Stats()
	ch <- prometheus.MustNewConstMetric(c.gets, prometheus.CounterValue, float64(st.Gets))
	ch <- prometheus.MustNewConstMetric(c.sets, prometheus.CounterValue, float64(st.Sets))
	ch <- prometheus.MustNewConstMetric(c.noops, prometheus.CounterValue, float64(st.Noops))
	ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(st.Calls))
}

// sanitize turns a variable path into a metric name fragment: the leading
// slash drops, every other character outside [a-zA-Z0-9] becomes '_'.
func sanitize(path string) string {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(path, "/") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
