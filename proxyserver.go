package main

import (
	"context"
	"net/http"

	"github.com/cmux/sandboxd/internal/proxy"
)

// proxyServer runs the workspace-routing HTTP/TCP proxy on its own listen
// address, separate from the control plane: the two have very different
// trust boundaries (the control plane is authenticated/admin-only, the
// proxy forwards arbitrary workspace traffic).
type proxyServer struct {
	addr   string
	router *proxy.Router

	httpServer *http.Server
}

func (p *proxyServer) start() error {
	p.httpServer = &http.Server{
		Addr:    p.addr,
		Handler: p.router,
	}
	err := p.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (p *proxyServer) stop(ctx context.Context) error {
	if p.httpServer == nil {
		return nil
	}
	return p.httpServer.Shutdown(ctx)
}
