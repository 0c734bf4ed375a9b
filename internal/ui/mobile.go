package ui

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// MobileAdapter is the REST surface mobile clients talk to. It shares
// the command handler with the web adapter but tags sessions "mobile"
// and listens on its own port.
type MobileAdapter struct {
	gateway Gateway
	port    int

	httpSrv *http.Server
	ln      net.Listener
}

func NewMobileAdapter(gateway Gateway, port int) *MobileAdapter {
	return &MobileAdapter{gateway: gateway, port: port}
}

func (a *MobileAdapter) Name() string { return "mobile" }

func (a *MobileAdapter) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.port))
	if err != nil {
		return fmt.Errorf("mobile adapter listen: %w", err)
	}
	a.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/mobile/v1/command", commandHandler(a.gateway, "mobile"))
	mux.HandleFunc("/healthz", healthHandler)

	a.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := a.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("mobile adapter stopped", "error", err)
		}
	}()

	log.Info("mobile adapter listening", "addr", ln.Addr().String())
	return nil
}

func (a *MobileAdapter) Stop() error {
	if a.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.httpSrv.Shutdown(ctx)
}

func (a *MobileAdapter) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}
