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

package queue

import (
	"strconv"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "action_queue"

// NetworkLabel labels queue metrics with the network id.
const NetworkLabel = "network"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of submission attempts.
	Submitted metrics.Counter
	// Number of actions completed.
	Completed metrics.Counter
	// Number of actions failed for good.
	Failed metrics.Counter
	// Number of retryable submission failures.
	Retried metrics.Counter
	// Number of pending actions.
	Pending metrics.Gauge
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	labels := []string{NetworkLabel}
	return &Metrics{
		Submitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "submitted",
			Help:      "Number of settlement submission attempts.",
		}, labels),
		Completed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "completed",
			Help:      "Number of completed actions.",
		}, labels),
		Failed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failed",
			Help:      "Number of actions that failed permanently.",
		}, labels),
		Retried: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "retried",
			Help:      "Number of retryable submission failures.",
		}, labels),
		Pending: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending",
			Help:      "Number of pending actions.",
		}, labels),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Submitted: discard.NewCounter(),
		Completed: discard.NewCounter(),
		Failed:    discard.NewCounter(),
		Retried:   discard.NewCounter(),
		Pending:   discard.NewGauge(),
	}
}

func networkLabel(network uint64) string {
	return strconv.FormatUint(network, 10)
}
