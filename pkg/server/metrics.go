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

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	activeStreams = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "xmppcore",
			Subsystem: "server",
			Name:      "active_streams",
			Help:      "The number of active receiving streams.",
		},
		[]string{"namespace"},
	)
	routedStanzas = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppcore",
			Subsystem: "server",
			Name:      "routed_stanzas_total",
			Help:      "The total number of stanzas routed between streams.",
		},
		[]string{"name", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(activeStreams)
	prometheus.MustRegister(routedStanzas)
}

func reportActiveStreams(ns string, n int) {
	activeStreams.WithLabelValues(ns).Set(float64(n))
}

func reportRoutedStanza(name string, delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "unavailable"
	}
	routedStanzas.WithLabelValues(name, outcome).Inc()
}
