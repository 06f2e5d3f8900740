// Package telemetry runs the debug sidecar: a localhost-only pprof
// server, kept off the public listener so profiling never rides the
// API port.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/flowsync/flowsync/common/logger"
)

// Telemetry serves pprof on a dedicated localhost port
type Telemetry struct {
	addr string
	log  *logger.Logger
	srv  *http.Server
}

// New creates the sidecar; port 0 means disabled
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		addr: fmt.Sprintf("localhost:%d", pprofPort),
		log:  log,
	}
}

// Start launches the pprof listener in the background and shuts it down
// when the context is cancelled
func (t *Telemetry) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	t.srv = &http.Server{
		Addr:        t.addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		t.log.Info("pprof server starting", "addr", t.addr)
		if err := t.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.log.Error("pprof server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = t.srv.Shutdown(shutdownCtx)
	}()
}
