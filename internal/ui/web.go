package ui

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aservis/maestro/internal/ctxstore"
	"github.com/aservis/maestro/internal/mcp"
	"github.com/aservis/maestro/internal/transport"
)

// WebConfig sizes the web surface.
type WebConfig struct {
	Port         int
	MaxFrameSize int
	SessionTTL   time.Duration
}

// WebAdapter serves the JSON command API plus a WebSocket endpoint that
// speaks the full MCP protocol.
type WebAdapter struct {
	gateway  Gateway
	store    *ctxstore.Store
	server   *mcp.Server
	cfg      WebConfig
	upgrader websocket.Upgrader

	rootCtx context.Context
	httpSrv *http.Server
	ln      net.Listener
}

// NewWebAdapter wires the web surface. server may be nil, in which case
// /ws answers 503.
func NewWebAdapter(gateway Gateway, store *ctxstore.Store, server *mcp.Server, cfg WebConfig) *WebAdapter {
	return &WebAdapter{
		gateway: gateway,
		store:   store,
		server:  server,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Local orchestrator: browser clients on other origins are
			// expected (file://, app bundles).
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (a *WebAdapter) Name() string { return "web" }

// Start binds the port synchronously so address conflicts surface as
// startup errors, then serves in the background.
func (a *WebAdapter) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Port))
	if err != nil {
		return fmt.Errorf("web adapter listen: %w", err)
	}
	a.ln = ln
	a.rootCtx = ctx

	mux := http.NewServeMux()
	mux.HandleFunc("/api/command", commandHandler(a.gateway, "web"))
	mux.HandleFunc("/api/sessions", a.handleSessions)
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/ws", a.handleWS)

	a.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := a.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("web adapter stopped", "error", err)
		}
	}()

	log.Info("web adapter listening", "addr", ln.Addr().String())
	return nil
}

func (a *WebAdapter) Stop() error {
	if a.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.httpSrv.Shutdown(ctx)
}

// Addr returns the bound address, for tests that listen on port 0.
func (a *WebAdapter) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

type sessionView struct {
	SessionID     string `json:"sessionId"`
	UserID        string `json:"userId"`
	InterfaceType string `json:"interfaceType"`
	CreatedAt     int64  `json:"createdAt"`
	LastAccessed  int64  `json:"lastAccessed"`
	Commands      int    `json:"commands"`
	Active        bool   `json:"active"`
}

func (a *WebAdapter) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "use GET"})
		return
	}

	now := time.Now()
	sessions := a.store.Sessions()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			SessionID:     s.SessionID,
			UserID:        s.UserID,
			InterfaceType: s.InterfaceType,
			CreatedAt:     s.CreatedAt,
			LastAccessed:  s.LastAccessed,
			Commands:      len(s.CommandHistory),
			Active:        s.Active(now, a.cfg.SessionTTL),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": views,
		"count":    len(views),
	})
}

// handleWS upgrades to WebSocket and runs the MCP protocol over it. The
// connection lives on the adapter's root context, not the request's, so
// it survives the HTTP handler's return path semantics.
func (a *WebAdapter) handleWS(w http.ResponseWriter, r *http.Request) {
	if a.server == nil {
		http.Error(w, "websocket transport disabled", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	stream := transport.NewWebSocketStream(wsConn, a.cfg.MaxFrameSize)
	conn := a.server.ServeStream(a.rootCtx, stream)
	<-conn.DisconnectNotify()
}
