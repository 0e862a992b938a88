// Package metrics holds the Prometheus collectors of the redemption engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once       sync.Once
	collectors []prometheus.Collector
)

// register is called by init() in each metrics file to enqueue collectors.
func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister registers all enqueued collectors with reg exactly once.
func MustRegister(reg prometheus.Registerer) {
	once.Do(func() {
		if len(collectors) > 0 {
			reg.MustRegister(collectors...)
		}
	})
}
