package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/PocketRelay/PocketRelayClientPlugin/internal/api"
)

// Local HTTP endpoint the game's backend requests land on once the redirect
// is active. The game speaks plain HTTP on the default port.
const httpAddr = "127.0.0.1:80"

// DefaultFactory builds the standard facade set for a validated server.
func DefaultFactory(log *slog.Logger, data *api.LookupData) []Facade {
	return []Facade{
		NewHTTPProxy(log, httpAddr, data.BaseURL()),
	}
}

// httpProxy serves the game's HTTP endpoints by reverse proxying them to the
// remote server.
type httpProxy struct {
	log    *slog.Logger
	addr   string
	target *url.URL
	bound  atomic.Value // string, actual listen address once serving
}

func NewHTTPProxy(log *slog.Logger, addr string, target *url.URL) Facade {
	return &httpProxy{log: log, addr: addr, target: target}
}

func (p *httpProxy) String() string { return "http-proxy" }

func (p *httpProxy) Addr() string {
	if s, ok := p.bound.Load().(string); ok {
		return s
	}
	return p.addr
}

func (p *httpProxy) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.addr, err)
	}
	p.bound.Store(ln.Addr().String())

	proxy := httputil.NewSingleHostReverseProxy(p.target)
	direct := proxy.Director
	proxy.Director = func(r *http.Request) {
		direct(r)
		// The game addresses the official host, the remote server expects
		// its own.
		r.Host = p.target.Host
	}
	proxy.ErrorLog = slog.NewLogLogger(p.log.Handler(), slog.LevelWarn)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.log.Warn("proxy request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		w.WriteHeader(http.StatusBadGateway)
	}

	srv := &http.Server{
		Handler:           proxy,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
