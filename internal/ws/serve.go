package ws

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Mariohjr94/The-Chef-de-Partie/internal/api/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth already gates the endpoint; browsers connect from any
	// frontend origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an authenticated request to a websocket connection and
// starts its pumps. Mounted behind the auth middleware.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	username, _ := middleware.GetUsername(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		hub:      g.hub,
		gateway:  g,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		userID:   userID,
		username: username,
		logger: g.logger.With().
			Str("user_id", userID.String()).
			Str("username", username).Logger(),
	}

	g.connected(c)

	go c.writePump()
	go c.readPump()
}
