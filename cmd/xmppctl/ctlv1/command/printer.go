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

package command

import (
	"fmt"
	"io"
	"time"
)

var display printer = &simplePrinter{}

type printer interface {
	MessageSent(to string)
	Pong(from string, rtt time.Duration)
	PingFailed(from, reason string)
	CreateUser(name string)
	ChangeUserPassword(name string)
	DeleteUser(name string)
}

type simplePrinter struct {
	w io.Writer
}

func (p *simplePrinter) MessageSent(to string) {
	p.printf("Message sent to %s\n", to)
}

func (p *simplePrinter) Pong(from string, rtt time.Duration) {
	p.printf("Pong from %s: time=%s\n", from, rtt.Round(time.Microsecond))
}

func (p *simplePrinter) PingFailed(from, reason string) {
	p.printf("Ping to %s failed: %s\n", from, reason)
}

func (p *simplePrinter) CreateUser(name string) {
	p.printf("User %s created\n", name)
}

func (p *simplePrinter) ChangeUserPassword(string) {
	p.printf("Password updated\n")
}

func (p *simplePrinter) DeleteUser(name string) {
	p.printf("User %s deleted\n", name)
}

func (p *simplePrinter) printf(format string, args ...interface{}) {
	if p.w == nil {
		fmt.Printf(format, args...)
		return
	}
	_, _ = fmt.Fprintf(p.w, format, args...)
}
