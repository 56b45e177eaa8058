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

// Package xmppd assembles the xmppcore server daemon: credential storage, listeners, routing and metrics.
package xmppd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackal-xmpp/sonar"
	"github.com/ortuman/xmppcore/pkg/event"
	"github.com/ortuman/xmppcore/pkg/log"
	"github.com/ortuman/xmppcore/pkg/mainloop"
	"github.com/ortuman/xmppcore/pkg/server"
	"github.com/ortuman/xmppcore/pkg/settings"
	"github.com/ortuman/xmppcore/pkg/util/crashreporter"
	"github.com/ortuman/xmppcore/pkg/version"
	"github.com/ortuman/xmppcore/pkg/xmpp"
	"golang.org/x/sync/errgroup"
)

const (
	darwinOpenMax = 10240

	defaultBootstrapTimeout = time.Minute
	defaultShutdownTimeout  = time.Second * 30

	envConfigFile = "XMPPD_CONFIG_FILE"
)

const usageStr = `
Usage: xmppd [options]
Server Options:
    --config <file>    Configuration file path
Common Options:
    --help             Show this message
    --version          Print version information
`

type starter interface {
	Start(ctx context.Context) error
}

type stopper interface {
	Stop(ctx context.Context) error
}

type startStopper interface {
	starter
	stopper
}

// XMPPd is the root data structure of the server daemon.
type XMPPd struct {
	output io.Writer
	args   []string

	queue   *mainloop.EventQueue
	creds   *credentialStore
	router  *server.Router
	httpSrv *httpServer

	c2sLn  *server.Listener
	compLn *server.Listener

	starters []starter
	stoppers []stopper

	waitStopCh chan os.Signal

	logger kitlog.Logger
}

// New makes a new XMPPd.
func New(output io.Writer, args []string) *XMPPd {
	return &XMPPd{
		output:     output,
		args:       args,
		waitStopCh: make(chan os.Signal, 1),
	}
}

// Run starts the daemon and blocks until a stop signal is received.
func (d *XMPPd) Run() error {
	defer crashreporter.RecoverAndReportPanic()

	fs := flag.NewFlagSet("xmppd", flag.ExitOnError)
	fs.SetOutput(d.output)

	var configFile string
	var showVersion, showUsage bool

	fs.BoolVar(&showUsage, "help", false, "Show this message")
	fs.BoolVar(&showVersion, "version", false, "Print version information.")
	fs.StringVar(&configFile, "config", "config.yaml", "Configuration file path.")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(d.output, "%s\n", usageStr)
	}
	_ = fs.Parse(d.args[1:])

	if showUsage {
		fs.Usage()
		return nil
	}
	if showVersion {
		_, _ = fmt.Fprintf(d.output, "xmppd version: %v\n", version.Version)
		return nil
	}
	// if present, override config file url with env var
	if envCfgFile := os.Getenv(envConfigFile); len(envCfgFile) > 0 {
		configFile = envCfgFile
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	d.logger = log.NewDefaultLogger(cfg.Logger.Level, cfg.Logger.Format)

	level.Info(d.logger).Log("msg", "xmppd is starting...",
		"version", version.Version,
		"domain", cfg.Domain,
		"go_ver", runtime.Version(),
		"go_os", runtime.GOOS,
		"go_arch", runtime.GOARCH,
	)
	if err := setRLimit(); err != nil {
		return err
	}
	if err := d.init(cfg); err != nil {
		return err
	}
	if err := d.bootstrap(); err != nil {
		return err
	}
	// ...wait for stop signal to shut down
	sig := d.waitForStopSignal()
	level.Info(d.logger).Log("msg", "received stop signal... shutting down...",
		"signal", sig.String(),
	)
	return d.shutdown()
}

func (d *XMPPd) init(cfg *Config) error {
	stg, err := cfg.streamSettings()
	if err != nil {
		return err
	}
	d.initEventQueue()

	if err := d.initCredentials(cfg.Storage); err != nil {
		return err
	}
	d.router = server.NewRouter(d.logger)

	d.httpSrv = newHTTPServer(cfg.HTTPPort, d.activeStreams, d.logger)
	d.registerStartStopper(d.httpSrv)

	return d.initListeners(cfg, stg)
}

func (d *XMPPd) initEventQueue() {
	d.queue = mainloop.NewEventQueue(sonar.New(), d.logger)
	d.queue.Subscribe(event.StreamAuthorized, d.onStreamEvent)
	d.queue.Subscribe(event.StreamDisconnected, d.onStreamEvent)
	d.queue.Subscribe(event.StreamAuthenticationFailed, d.onStreamEvent)

	d.registerStartStopper(&queueRunner{q: d.queue})
}

func (d *XMPPd) initCredentials(cfg StorageConfig) error {
	creds, err := newCredentialStore(cfg, d.logger)
	if err != nil {
		return err
	}
	d.creds = creds
	d.registerStartStopper(creds)
	return nil
}

func (d *XMPPd) initListeners(cfg *Config, stg *settings.Settings) error {
	if !cfg.C2S.Disabled {
		ln, err := server.NewListener(
			net.JoinHostPort(cfg.C2S.BindAddr, strconv.Itoa(cfg.C2S.Port)),
			xmpp.ClientNamespace,
			cfg.Domain,
			stg,
			server.WithLogger(d.logger),
			server.WithEventQueue(d.queue),
			server.WithCredentialProvider(d.creds.Provider()),
			server.WithHandlers(server.Ping{}),
			server.WithRouter(d.router),
		)
		if err != nil {
			return err
		}
		d.c2sLn = ln
		d.registerStartStopper(ln)
	}
	if len(cfg.Components.Secrets) > 0 {
		ln, err := server.NewListener(
			net.JoinHostPort(cfg.Components.BindAddr, strconv.Itoa(cfg.Components.Port)),
			xmpp.ComponentNamespace,
			cfg.Domain,
			stg,
			server.WithLogger(d.logger),
			server.WithEventQueue(d.queue),
			server.WithComponentSecrets(cfg.Components.secretMap()),
			server.WithRouter(d.router),
		)
		if err != nil {
			return err
		}
		d.compLn = ln
		d.registerStartStopper(ln)
	}
	return nil
}

func (d *XMPPd) activeStreams() int {
	var n int
	for _, ln := range []*server.Listener{d.c2sLn, d.compLn} {
		if ln != nil {
			n += len(ln.Streams())
		}
	}
	return n
}

func (d *XMPPd) onStreamEvent(_ context.Context, ev sonar.Event) error {
	inf, ok := ev.Info().(*event.StreamInfo)
	if !ok {
		return nil
	}
	kvs := []interface{}{"msg", "stream event", "event", ev.Name(), "id", inf.ID}
	if inf.Peer != nil {
		kvs = append(kvs, "peer", inf.Peer.String())
	}
	if inf.Err != nil {
		kvs = append(kvs, "err", inf.Err)
	}
	level.Debug(d.logger).Log(kvs...)
	return nil
}

func (d *XMPPd) registerStartStopper(ss startStopper) {
	if ss == nil {
		return
	}
	d.starters = append(d.starters, ss)
	d.stoppers = append([]stopper{ss}, d.stoppers...)
}

func (d *XMPPd) bootstrap() error {
	// spin up all service subsystems
	ctx, cancel := context.WithTimeout(context.Background(), defaultBootstrapTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		for _, s := range d.starters {
			if err := s.Start(ctx); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *XMPPd) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		for _, st := range d.stoppers {
			if err := st.Stop(ctx); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *XMPPd) waitForStopSignal() os.Signal {
	signal.Notify(d.waitStopCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	return <-d.waitStopCh
}

// queueRunner delivers the shared event queue in its own goroutine while the daemon runs.
type queueRunner struct {
	q      *mainloop.EventQueue
	cancel context.CancelFunc
	g      *errgroup.Group
}

func (r *queueRunner) Start(_ context.Context) error {
	var ctx context.Context
	ctx, r.cancel = context.WithCancel(context.Background())
	r.g, ctx = errgroup.WithContext(ctx)
	r.g.Go(func() error {
		return r.q.Run(ctx)
	})
	return nil
}

func (r *queueRunner) Stop(ctx context.Context) error {
	r.cancel()
	if err := r.g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	r.q.Drain(ctx)
	return nil
}

func setRLimit() error {
	var rLim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLim); err != nil {
		return err
	}
	if rLim.Cur < rLim.Max {
		switch runtime.GOOS {
		case "darwin":
			rLim.Cur = darwinOpenMax
		default:
			rLim.Cur = rLim.Max
		}
		return syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLim)
	}
	return nil
}
