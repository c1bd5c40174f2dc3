package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/coder/websocket"

	"github.com/voxbridge/voxbridge/internal/relay"
)

// identityParam is the query parameter carrying the session identity on the
// WebSocket URL.
const identityParam = "user"

// wsConn adapts a [websocket.Conn] to the [relay.Conn] interface. The
// underlying library serialises concurrent writers, which the relay relies
// on: both pumps may write.
type wsConn struct {
	ws *websocket.Conn
}

func (c wsConn) Read(ctx context.Context) ([]byte, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("server: unexpected %v frame, protocol is JSON text", typ)
	}
	return data, nil
}

func (c wsConn) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// serveDegraded answers a browser connection when no upstream is configured:
// it reports the missing voice service, then keeps echoing mute toggles until
// the client disconnects. Audio and anything else is ignored.
func (s *Server) serveDegraded(ctx context.Context, conn relay.Conn) {
	_ = conn.Write(ctx, []byte(`{"type":"error","message":"voice service is not configured"}`))
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg struct {
			Type  string `json:"type"`
			Muted bool   `json:"muted"`
		}
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "mute" {
			continue
		}
		out, _ := json.Marshal(map[string]any{"type": "mute_status", "muted": msg.Muted})
		if err := conn.Write(ctx, out); err != nil {
			return
		}
	}
}

// handleWS upgrades the connection, extracts the session identity, and runs
// one relay for the connection's lifetime.
func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	identity := req.URL.Query().Get(identityParam)
	if identity == "" {
		s.log.Info("no session identity supplied, using anonymous identity", "remote", req.RemoteAddr)
		identity = relay.DefaultIdentity
	}

	opts := &websocket.AcceptOptions{}
	if slices.Contains(s.allowedOrigins, "*") {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = s.allowedOrigins
	}

	ws, err := websocket.Accept(w, req, opts)
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", req.RemoteAddr, "err", err)
		return
	}

	if s.provider == nil {
		// Degraded mode: no upstream configured. The socket stays open so the
		// frontend keeps working; only voice is unavailable.
		s.log.Warn("voice unavailable, upstream not configured", "identity", identity)
		s.serveDegraded(req.Context(), wsConn{ws})
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
		return
	}

	rl := relay.New(wsConn{ws}, s.provider, s.dispatcher,
		relay.WithIdentity(identity),
		relay.WithSessionConfig(s.sessionCfg),
		relay.WithClientSampleRate(s.clientRate),
		relay.WithLogger(s.log),
		relay.WithMetrics(s.metrics),
	)

	s.register(rl)
	defer s.unregister(rl)
	s.log.Info("browser connected", "relay_id", rl.ID(), "identity", identity, "remote", req.RemoteAddr)

	if err := rl.Run(req.Context()); err != nil {
		s.log.Warn("relay ended with error", "relay_id", rl.ID(), "err", err)
		_ = ws.Close(websocket.StatusInternalError, "session failed")
		return
	}
	_ = ws.Close(websocket.StatusNormalClosure, "session ended")
}
