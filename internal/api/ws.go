package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// writeTimeout bounds each WebSocket write so a dead peer fails the
// send instead of blocking the broadcast.
const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the hub's Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) WriteMessage(data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// handleWS upgrades the request and hands the connection to the hub
// for its lifetime. The read loop only exists to notice the client
// going away; no client-to-server messages are defined.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.Hub.Run(ctx, &wsConn{conn: conn})
}
