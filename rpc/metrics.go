// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rpc

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "rpc"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of requests, labeled by method.
	Requests metrics.Counter
	// Number of error responses, labeled by method.
	Errors metrics.Counter
	// Number of open sessions.
	Sessions metrics.Gauge
	// Request handling time in seconds, labeled by method.
	Latency metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "requests",
			Help:      "Number of requests received.",
		}, []string{"method"}),
		Errors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "errors",
			Help:      "Number of error responses sent.",
		}, []string{"method"}),
		Sessions: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sessions",
			Help:      "Number of open sessions.",
		}, []string{}),
		Latency: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "latency_seconds",
			Help:      "Request handling time.",
			Buckets:   stdprometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"method"}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Requests: discard.NewCounter(),
		Errors:   discard.NewCounter(),
		Sessions: discard.NewGauge(),
		Latency:  discard.NewHistogram(),
	}
}
