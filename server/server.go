// Package server supervises the listener's lifecycle: accept, dispatch,
// and signal-driven shutdown/reload.
package server

import (
	"context"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/mdevlamynck/lircd/config"
	"github.com/mdevlamynck/lircd/irc"
	"github.com/mdevlamynck/lircd/metrics"
)

// Server owns the listening socket, the shared IRC state, and the
// connection goroutines spawned from it.
type Server struct {
	log     *logrus.Logger
	state   *irc.GlobalState
	disp    *irc.Dispatcher
	metrics *metrics.Registry

	connWG sync.WaitGroup

	boundMu   sync.Mutex
	boundAddr string
	// Listening, if non-nil, receives the bound address each time the
	// listener successfully starts accepting connections. Tests use
	// this to discover an ephemeral port; production callers leave it
	// nil.
	Listening chan string
}

// New builds a Server around cfg, ready to Run. reg receives connection,
// command, and dropped-line counts as the server runs.
func New(cfg *config.Config, log *logrus.Logger, reg *metrics.Registry) *Server {
	state := irc.NewGlobalState(cfg)
	return &Server{
		log:     log,
		state:   state,
		disp:    irc.NewDispatcher(state, reg),
		metrics: reg,
	}
}

// Addr reports the address Server is currently configured to listen
// on, including any value that has only been resolved to a concrete
// port by the kernel (e.g. when configured with port 0) once Listening
// has fired at least once.
func (s *Server) Addr() string {
	s.boundMu.Lock()
	defer s.boundMu.Unlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.state.Config().Network.ListenAddress
}

// listen opens the configured TCP socket and accepts connections until
// ctx (the listener's own, cancel-on-reload context) is done, running
// each accepted connection's Conn.Serve against sessionCtx (the
// process-lifetime context) instead, so a config reload tears down the
// listener without severing connections already established — the same
// split StartServer/Listen draws between a server's configCtx and the
// process-wide sessionParentCtx.
func (s *Server) listen(ctx, sessionCtx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	s.boundMu.Lock()
	s.boundAddr = ln.Addr().String()
	s.boundMu.Unlock()
	s.log.WithField("addr", ln.Addr().String()).Info("listening")

	if s.Listening != nil {
		select {
		case s.Listening <- ln.Addr().String():
		default:
		}
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			s.serveOne(sessionCtx, conn)
		}()
	}
}

func (s *Server) serveOne(ctx context.Context, raw net.Conn) {
	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()
		defer s.metrics.ConnectionsActive.Dec()
	}

	entry := logrus.NewEntry(s.log)
	c := irc.NewConn(raw, s.disp, entry, s.metrics)
	entry = entry.WithField("conn", c.ID).WithField("remote", raw.RemoteAddr().String())
	entry.Info("connection accepted")

	if err := c.Serve(ctx); err != nil {
		entry.WithError(err).Warn("connection ended with error")
		return
	}
	entry.Info("connection closed")
}

// Run is the process's main loop: it loads cfg once to seed the
// listener, then reloads on SIGHUP (swapping GlobalState's config
// snapshot and restarting the listener with the new bind address) and
// shuts down cleanly on SIGINT/SIGTERM, aggregating any teardown
// errors. It mirrors the RunConfig loop (smtpd/control.go),
// generalised from "one goroutine per configured SMTP server" to "one
// listener, reloaded on demand".
func (s *Server) Run(ctx context.Context, reload func() (*config.Config, error)) error {
	intr := make(chan os.Signal, 1)
	term := make(chan os.Signal, 1)
	hup := make(chan os.Signal, 1)
	signal.Notify(intr, os.Interrupt)
	signal.Notify(term, syscall.SIGTERM)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(intr)
	defer signal.Stop(term)
	defer signal.Stop(hup)

	rootCtx, cancelRoot := context.WithCancel(ctx)
	defer cancelRoot()

	var result *multierror.Error

	for {
		listenCtx, cancelListen := context.WithCancel(rootCtx)
		addr := s.state.Config().Network.ListenAddress

		listenErr := make(chan error, 1)
		go func() { listenErr <- s.listen(listenCtx, rootCtx, addr) }()

		select {
		case <-rootCtx.Done():
			cancelListen()
			s.connWG.Wait()
			if err := <-listenErr; err != nil {
				result = multierror.Append(result, err)
			}
			return result.ErrorOrNil()

		case <-intr:
			s.log.Info("interrupt received, shutting down")
			cancelRoot()
			cancelListen()
			s.connWG.Wait()
			if err := <-listenErr; err != nil {
				result = multierror.Append(result, err)
			}
			return result.ErrorOrNil()

		case <-term:
			s.log.Info("terminate received, shutting down")
			cancelRoot()
			cancelListen()
			s.connWG.Wait()
			if err := <-listenErr; err != nil {
				result = multierror.Append(result, err)
			}
			return result.ErrorOrNil()

		case <-hup:
			s.log.Info("reload received, re-reading configuration")
			cfg, err := reload()
			if err != nil {
				s.log.WithError(err).Error("reload failed, keeping previous configuration")
				cancelListen()
				<-listenErr
				continue
			}
			s.state.SetConfig(cfg)
			cancelListen() // stop accepting on the old bind; live connections are unaffected
			if err := <-listenErr; err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
	}
}
