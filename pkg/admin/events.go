package admin

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/events"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
	"github.com/gorilla/websocket"
)

const eventBuffer = 256

// handleEvents upgrades GET /api/events to a WebSocket streaming game
// events as JSON. The token comes from ?token= or the Authorization
// header. ?player=N limits the stream to one player's notifications;
// otherwise every event is sent.
func (a *Admin) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = bearerToken(r)
	}
	if _, err := a.tokens.Validate(token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	player := gamedb.Nothing
	if s := r.URL.Query().Get("player"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid player")
			return
		}
		player = gamedb.DBRef(n)
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("admin: websocket upgrade error: %v", err)
		return
	}

	sub := events.NewChanSubscriber(eventBuffer)
	if player == gamedb.Nothing {
		a.game.EventBus.SubscribeGlobal(sub)
	} else {
		a.game.EventBus.Subscribe(player, sub)
	}

	done := make(chan struct{})
	go func() {
		// Drain client frames so close messages are seen.
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("admin: websocket read error: %v", err)
				}
				return
			}
		}
	}()

	defer func() {
		a.game.EventBus.Unsubscribe(player, sub)
		sub.Close()
		conn.Close()
		if n := sub.Dropped(); n > 0 {
			log.Printf("admin: event stream from %s dropped %d events", r.RemoteAddr, n)
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
