package broker

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Sessions authenticate per domain through register commands.
		return true
	},
}

// Handler upgrades HTTP requests on /ws into broker sessions.
func Handler(b *Broker) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		s := newSession(b, conn, uuid.NewString())
		select {
		case b.register <- s:
		case <-b.stopped:
			conn.Close()
			return
		}

		go s.writePump()
		s.readPump()
	}
}
