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

// Package crashreporter turns panics into error reports, sending them to Sentry when a DSN is configured.
package crashreporter

import (
	syslog "log"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/sentry-go"
)

const (
	envSentryDSN = "XMPPD_SENTRY_DSN"

	depthForRecoverAndReportPanic = 3

	flushTimeout = 10 * time.Second
)

var enabled bool

func init() {
	dsn := os.Getenv(envSentryDSN)
	if len(dsn) == 0 {
		return
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
		syslog.Printf("crashreporter: sentry init: %s", err)
		return
	}
	enabled = true
}

// RecoverAndReportPanic must be deferred. It reports a recovered panic and terminates the process.
func RecoverAndReportPanic() {
	if r := recover(); r != nil {
		err := PanicAsError(depthForRecoverAndReportPanic+1, r)
		if enabled {
			send(err)
		}
		syslog.Fatalf("xmppd panicked!\n%+v", err)
	}
}

// PanicAsError converts a recovered panic value into an error carrying the panic stack trace.
func PanicAsError(depth int, r interface{}) error {
	if err, ok := r.(error); ok {
		return errors.WithStackDepth(err, depth+1)
	}
	return errors.NewWithDepthf(depth+1, "panic: %v", r)
}

func send(err error) {
	event, extraDetails := errors.BuildSentryReport(err)
	for k, v := range extraDetails {
		event.Extra[k] = v
	}
	event.ServerName = "<redacted>"
	event.Tags["report_type"] = "panic"

	_ = sentry.CaptureEvent(event)
	_ = sentry.Flush(flushTimeout)
}
