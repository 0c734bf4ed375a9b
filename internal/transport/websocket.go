package transport

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aservis/maestro/pkg/protocol"
)

// wsStream adapts a WebSocket connection to jsonrpc2.ObjectStream: one
// JSON-RPC message per WebSocket message. Bad frames are answered in
// place, mirroring serverStream.
type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	max     int
}

func NewWebSocketStream(conn *websocket.Conn, maxFrame int) *wsStream {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	conn.SetReadLimit(int64(maxFrame))
	return &wsStream{conn: conn, max: maxFrame}
}

func (s *wsStream) ReadObject(v interface{}) error {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}

		c := protocol.Classify(raw)
		switch c.Kind {
		case protocol.KindRequest, protocol.KindNotification, protocol.KindResponse:
			return json.Unmarshal(raw, v)
		case protocol.KindMalformedRequest:
			log.Warn("rejecting malformed request", "transport", "websocket")
			s.reject(protocol.NewErrorResponse(nil, protocol.CodeInvalidRequest, "Invalid Request"))
		default:
			log.Warn("rejecting unparseable frame", "transport", "websocket", "bytes", len(raw))
			s.reject(protocol.NewErrorResponse(c.ID, protocol.CodeParseError, "Parse error"))
		}
	}
}

func (s *wsStream) WriteObject(obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsStream) reject(resp *protocol.Response) {
	if err := s.WriteObject(resp); err != nil {
		log.Warn("failed to send error response", "transport", "websocket", "error", err)
	}
}

func (s *wsStream) Close() error { return s.conn.Close() }
