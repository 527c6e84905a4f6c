package proxy

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	headerWorkspace = "X-Cmux-Workspace-Internal"
	headerPort      = "X-Cmux-Port-Internal"
)

var hostPattern = regexp.MustCompile(`^([a-zA-Z0-9_.-]+)-(\d+)\.localhost(?::\d+)?$`)

// Target is a resolved (workspace, port) routing decision.
type Target struct {
	Workspace string
	Port      int
}

// Config configures a Router.
type Config struct {
	// DefaultUpstream, if set, is used when a request carries no
	// workspace-selection header or matching Host pattern.
	DefaultUpstream string
	// DialRate bounds how many new backend dials per second the proxy
	// will attempt, guarding against reconnect storms against a backend
	// that is down.
	DialRate  rate.Limit
	DialBurst int
}

// Router resolves and forwards workspace-routed HTTP and TCP traffic.
type Router struct {
	cfg     Config
	limiter *rate.Limiter

	mu         sync.Mutex
	proxyCache map[string]*httputil.ReverseProxy
}

// New builds a Router from cfg, applying sane rate-limit defaults.
func New(cfg Config) *Router {
	if cfg.DialRate <= 0 {
		cfg.DialRate = 50
	}
	if cfg.DialBurst <= 0 {
		cfg.DialBurst = 20
	}
	return &Router{
		cfg:        cfg,
		limiter:    rate.NewLimiter(cfg.DialRate, cfg.DialBurst),
		proxyCache: make(map[string]*httputil.ReverseProxy),
	}
}

// resolve determines the routing target per the precedence order: explicit
// headers, then Host subdomain pattern, then the configured default
// upstream. Returns ok=false when nothing matches (caller replies 502).
func (rt *Router) resolve(r *http.Request) (Target, bool) {
	if ws := r.Header.Get(headerWorkspace); ws != "" {
		portStr := r.Header.Get(headerPort)
		port, err := strconv.Atoi(portStr)
		if err == nil && port > 0 && port <= 65535 {
			return Target{Workspace: ws, Port: port}, true
		}
		return Target{}, false
	}

	if m := hostPattern.FindStringSubmatch(r.Host); m != nil {
		port, err := strconv.Atoi(m[2])
		if err == nil {
			return Target{Workspace: m[1], Port: port}, true
		}
	}

	if rt.cfg.DefaultUpstream != "" {
		port := 80
		if _, portStr, err := net.SplitHostPort(r.Host); err == nil {
			if p, err := strconv.Atoi(portStr); err == nil {
				port = p
			}
		}
		return Target{Workspace: "", Port: port}, true
	}

	return Target{}, false
}

func (rt *Router) backendAddr(target Target) string {
	if target.Workspace == "" {
		host := rt.cfg.DefaultUpstream
		return net.JoinHostPort(host, strconv.Itoa(target.Port))
	}
	ip := WorkspaceIP(target.Workspace)
	return net.JoinHostPort(ip.String(), strconv.Itoa(target.Port))
}

func stripRoutingHeaders(r *http.Request) {
	r.Header.Del(headerWorkspace)
	r.Header.Del(headerPort)
}

// ServeHTTP implements http.Handler, routing a request to its workspace
// backend via a cached reverse proxy, or CONNECT-tunneling it.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		rt.handleConnect(w, r)
		return
	}

	target, ok := rt.resolve(r)
	if !ok {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	stripRoutingHeaders(r)
	addr := rt.backendAddr(target)

	if !rt.limiter.Allow() {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	proxy := rt.reverseProxyFor(addr)
	proxy.ServeHTTP(w, r)
}

func (rt *Router) reverseProxyFor(addr string) *httputil.ReverseProxy {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if p, ok := rt.proxyCache[addr]; ok {
		return p
	}
	target := &url.URL{Scheme: "http", Host: addr}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Debug().Err(err).Str("backend", addr).Msg("workspace proxy dial failed")
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}
	rt.proxyCache[addr] = proxy
	return proxy
}

// handleConnect establishes a transparent TCP tunnel to the resolved
// workspace backend, used for TLS/WebSocket/VNC traffic that an HTTP
// reverse proxy can't transparently forward.
func (rt *Router) handleConnect(w http.ResponseWriter, r *http.Request) {
	target, ok := rt.resolve(r)
	if !ok {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	if !rt.limiter.Allow() {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	addr := rt.backendAddr(target)

	dialCtx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	defer cancel()
	backendConn, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", addr)
	if err != nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}
	defer backendConn.Close()
	setNoDelay(backendConn)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "tunneling not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()
	setNoDelay(clientConn)

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	tunnel(clientConn, backendConn)
}

func setNoDelay(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}

func tunnel(a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go cp(a, b)
	go cp(b, a)
	<-done
	<-done
}
