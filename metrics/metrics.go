// Package metrics wires the rcrowley/go-metrics registry into the
// NewRegisteredXxx idiom used throughout the teacher codebase (see e.g.
// abey/fetcher/metrics.go). It provides the constructors and the shared
// registry only; no other package in this module registers a metric.
package metrics

import gometrics "github.com/rcrowley/go-metrics"

var registry = gometrics.NewRegistry()

// NewRegisteredMeter creates and registers a Meter under name.
func NewRegisteredMeter(name string) gometrics.Meter {
	return gometrics.GetOrRegisterMeter(name, registry)
}

// NewRegisteredCounter creates and registers a Counter under name.
func NewRegisteredCounter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(name, registry)
}

// NewRegisteredTimer creates and registers a Timer under name.
func NewRegisteredTimer(name string) gometrics.Timer {
	return gometrics.GetOrRegisterTimer(name, registry)
}

// NewRegisteredGauge creates and registers a Gauge under name.
func NewRegisteredGauge(name string) gometrics.Gauge {
	return gometrics.GetOrRegisterGauge(name, registry)
}

// Registry exposes the underlying registry, e.g. for a reporter goroutine
// (InfluxDB, graphite, log-dump) started from cmd/chainindexd.
func Registry() gometrics.Registry { return registry }
