package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdevlamynck/lircd/config"
	"github.com/mdevlamynck/lircd/metrics"
)

func newTestServer() *Server {
	cfg := config.Default()
	cfg.Network.ListenAddress = "127.0.0.1:0"
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel) // keep test output quiet
	s := New(cfg, log, metrics.New())
	s.Listening = make(chan string, 1)
	return s
}

func TestServerAcceptsAndRegistersClient(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx, func() (*config.Config, error) { return s.state.Config(), nil }) }()

	var addr string
	select {
	case addr = <-s.Listening:
	case <-time.After(2 * time.Second):
		t.Fatal("server never started listening")
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	rw.WriteString("NICK dave\r\n")
	rw.WriteString("USER dave 0 * :Dave D\r\n")
	rw.Flush()

	if _, err := rw.ReadString('\n'); err != nil {
		t.Fatalf("reading welcome line: %v", err)
	}
	if _, ok := s.state.Lookup("dave"); !ok {
		t.Errorf("dave should be registered in shared state")
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServerReloadSwapsConfigWithoutDroppingConnections(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := config.Default()
	reloaded.Network.ListenAddress = "127.0.0.1:0"
	reloaded.IRC.Welcome = "reloaded"

	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(ctx, func() (*config.Config, error) { return reloaded, nil })
	}()

	var addr string
	select {
	case addr = <-s.Listening:
	case <-time.After(2 * time.Second):
		t.Fatal("server never started listening")
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	rw.WriteString("NICK erin\r\n")
	rw.WriteString("USER erin 0 * :Erin E\r\n")
	rw.Flush()
	if _, err := rw.ReadString('\n'); err != nil {
		t.Fatalf("reading welcome line: %v", err)
	}

	s.state.SetConfig(reloaded) // simulate what SIGHUP would have done
	if s.state.Config().IRC.Welcome != "reloaded" {
		t.Fatalf("config swap did not take effect")
	}

	// The already-registered connection must still be usable.
	rw.WriteString("QUIT :done\r\n")
	rw.Flush()

	cancel()
	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
