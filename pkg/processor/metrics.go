// Copyright 2022 The jackal Authors
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

package processor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	processorIncomingStanzas = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppcore",
			Subsystem: "processor",
			Name:      "incoming_stanzas_total",
			Help:      "The total number of processed incoming stanzas.",
		},
		[]string{"name", "type", "outcome"},
	)
	processorHandlerDurationBucket = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "xmppcore",
			Subsystem: "processor",
			Name:      "handler_duration_bucket",
			Help:      "Bucketed histogram of stanza handlers duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 20),
		},
		[]string{"name", "type"},
	)
	processorIQTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "xmppcore",
			Subsystem: "processor",
			Name:      "iq_timeouts_total",
			Help:      "The total number of IQ requests that timed out.",
		},
	)
)

func init() {
	prometheus.MustRegister(processorIncomingStanzas)
	prometheus.MustRegister(processorHandlerDurationBucket)
	prometheus.MustRegister(processorIQTimeouts)
}

const (
	handledOutcome   = "handled"
	unhandledOutcome = "unhandled"
	droppedOutcome   = "dropped"
)

func reportIncomingStanza(name, typ, outcome string, durationInSecs float64) {
	processorIncomingStanzas.With(prometheus.Labels{
		"name":    name,
		"type":    typ,
		"outcome": outcome,
	}).Inc()
	if durationInSecs > 0 {
		processorHandlerDurationBucket.With(prometheus.Labels{
			"name": name,
			"type": typ,
		}).Observe(durationInSecs)
	}
}

func reportIQTimeout() {
	processorIQTimeouts.Inc()
}
