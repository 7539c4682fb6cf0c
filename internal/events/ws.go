package events

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const welcome = `{"type":"welcome","transport":"websocket"}`

func WSHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Debug().Err(err).Msg("upgrade failed")
			return
		}

		// welcome goes out before Add so it never races a broadcast
		if err := ws.WriteMessage(websocket.TextMessage, []byte(welcome)); err != nil {
			_ = ws.Close()
			return
		}
		hub.Add(ws)
		hub.log.Debug().Str("remote", ws.RemoteAddr().String()).Msg("client connected")

		// incoming frames are ignored; the read loop only detects disconnects
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.Remove(ws)
		hub.log.Debug().Str("remote", ws.RemoteAddr().String()).Msg("client disconnected")
	}
}
