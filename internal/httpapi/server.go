// Package httpapi assembles the gateway's HTTP edge: the route table,
// the listener (bare TCP or systemd socket activation), and graceful
// shutdown.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"gatewayd/pkg/logging"

	"github.com/coreos/go-systemd/v22/activation"
)

// Server owns the listening HTTP server(s) for the gateway. Under systemd
// socket activation it may own more than one listener (one per passed
// socket); otherwise it owns exactly one.
type Server struct {
	servers []*http.Server
}

// NewServer starts the HTTP server bound to host:port, or to whatever
// sockets systemd handed the process, and returns once listening has
// begun. errorCallback is invoked from a background goroutine if a
// listener fails outside of a deliberate Shutdown.
func NewServer(host string, port int, handler http.Handler, errorCallback func(error)) (*Server, error) {
	listeners, err := systemdListeners()
	if err != nil {
		logging.Warn("httpapi", "failed to inspect systemd listeners: %v", err)
	}

	s := &Server{}

	if len(listeners) > 0 {
		logging.Info("httpapi", "using %d systemd-activated listener(s)", len(listeners))
		for i, l := range listeners {
			srv := &http.Server{Handler: handler}
			s.servers = append(s.servers, srv)
			go func(srv *http.Server, l net.Listener, index int) {
				if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
					logging.Error("httpapi", err, "listener %d failed", index)
					if errorCallback != nil {
						errorCallback(err)
					}
				}
			}(srv, l, i)
		}
		return s, nil
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{Addr: addr, Handler: handler}
	s.servers = append(s.servers, srv)

	logging.Info("httpapi", "listening on %s", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("httpapi", err, "server error")
			if errorCallback != nil {
				errorCallback(err)
			}
		}
	}()

	return s, nil
}

func systemdListeners() ([]net.Listener, error) {
	byName, err := activation.ListenersWithNames()
	if err != nil {
		return nil, err
	}
	var out []net.Listener
	for name, ls := range byName {
		for i, l := range ls {
			logging.Debug("httpapi", "systemd listener %d for %s", i, name)
			out = append(out, l)
		}
	}
	return out, nil
}

// Shutdown gracefully stops every listener, waiting up to the given
// timeout for in-flight requests (notably long-lived SSE streams) to
// drain.
func (s *Server) Shutdown(ctx context.Context, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var firstErr error
	for _, srv := range s.servers {
		if err := srv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
