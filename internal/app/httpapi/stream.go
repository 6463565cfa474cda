package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/marcasino/internal/app/events"
	"github.com/R3E-Network/marcasino/internal/middleware"
	"github.com/gorilla/websocket"
)

const (
	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

func newUpgrader(origins *middleware.OriginPolicy) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     origins.CheckOrigin,
	}
}

// streamEvents pushes bus events to a websocket client as JSON frames. The
// optional type and player query parameters filter the feed. A client that
// falls streamBuffer events behind is disconnected.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	player := r.URL.Query().Get("player")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade")
		return
	}
	defer conn.Close()

	feed := make(chan events.Event, streamBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	unsubscribe := h.app.Bus.Subscribe(func(evt events.Event) {
		if (typ != "" && evt.Type != typ) || (player != "" && evt.Player != player) {
			return
		}
		select {
		case feed <- evt:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	// Reads are only needed to observe the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case evt := <-feed:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-overflow:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"),
				time.Now().Add(streamWriteWait))
			return
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
