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

package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	streamIncomingElements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppcore",
			Subsystem: "stream",
			Name:      "incoming_elements_total",
			Help:      "The total number of top level elements received.",
		},
		[]string{"role", "name"},
	)
	streamOutgoingElements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppcore",
			Subsystem: "stream",
			Name:      "outgoing_elements_total",
			Help:      "The total number of top level elements sent.",
		},
		[]string{"role", "name"},
	)
	streamAuthentications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppcore",
			Subsystem: "stream",
			Name:      "authentications_total",
			Help:      "The total number of completed authentication attempts.",
		},
		[]string{"role", "mechanism", "outcome"},
	)
	streamEstablished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppcore",
			Subsystem: "stream",
			Name:      "established_total",
			Help:      "The total number of established streams.",
		},
		[]string{"role", "namespace"},
	)
	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "xmppcore",
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "The total number of stream errors.",
		},
		[]string{"role", "direction", "reason"},
	)
)

func init() {
	prometheus.MustRegister(streamIncomingElements)
	prometheus.MustRegister(streamOutgoingElements)
	prometheus.MustRegister(streamAuthentications)
	prometheus.MustRegister(streamEstablished)
	prometheus.MustRegister(streamErrors)
}

const (
	successOutcome = "success"
	failureOutcome = "failure"

	sentDirection     = "sent"
	receivedDirection = "received"
)

func reportIncomingElement(role Role, name string) {
	streamIncomingElements.With(prometheus.Labels{"role": role.String(), "name": name}).Inc()
}

func reportOutgoingElement(role Role, name string) {
	streamOutgoingElements.With(prometheus.Labels{"role": role.String(), "name": name}).Inc()
}

func reportAuthentication(role Role, mechanism string, success bool) {
	outcome := failureOutcome
	if success {
		outcome = successOutcome
	}
	streamAuthentications.With(prometheus.Labels{
		"role":      role.String(),
		"mechanism": mechanism,
		"outcome":   outcome,
	}).Inc()
}

func reportEstablished(role Role, ns string) {
	streamEstablished.With(prometheus.Labels{"role": role.String(), "namespace": ns}).Inc()
}

func reportStreamError(role Role, direction, reason string) {
	streamErrors.With(prometheus.Labels{
		"role":      role.String(),
		"direction": direction,
		"reason":    reason,
	}).Inc()
}
