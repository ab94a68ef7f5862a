// Package serve exposes a running pipeline over HTTP: prometheus metrics, a
// JSON status page, a websocket report stream and the annotated MJPEG preview.
package serve

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Options selects the handlers mounted by NewHandler. Nil fields are skipped.
type Options struct {
	Gatherer prometheus.Gatherer
	Status   *StatusServer
	Hub      *Hub
	MJPEG    http.Handler
}

// NewHandler builds the HTTP surface with request logging and panic recovery.
func NewHandler(o Options) http.Handler {
	mux := http.NewServeMux()
	if o.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}))
	}
	if o.Status != nil {
		mux.Handle("/status", o.Status)
	}
	if o.Hub != nil {
		mux.Handle("/reports", o.Hub)
	}
	if o.MJPEG != nil {
		mux.Handle("/mjpeg", o.MJPEG)
	}
	logged := handlers.LoggingHandler(log.StandardLogger().WriterLevel(log.DebugLevel), mux)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(log.StandardLogger()),
		handlers.PrintRecoveryStack(true),
	)(logged)
}

// Server serves a handler in the background until Shutdown.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and starts serving h on a separate goroutine.
func Listen(addr string, h http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	s := &Server{
		srv: &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second},
		ln:  ln,
	}
	go func() {
		log.Infof("Serving status on http://%s", ln.Addr())
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("Status server failed: %v", err)
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
