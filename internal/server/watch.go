package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/voicewatch/internal/history"
	"github.com/loykin/voicewatch/internal/supervisor"
)

const (
	watchWriteWait  = 10 * time.Second
	watchPongWait   = 60 * time.Second
	watchPingPeriod = watchPongWait * 9 / 10
)

// WatchMessage is one frame on /watch. The first frame is a snapshot of every
// status; each later frame carries one transition.
type WatchMessage struct {
	Type       string              `json:"type"`
	Statuses   []supervisor.Status `json:"statuses,omitempty"`
	Transition *history.Event      `json:"transition,omitempty"`
}

const (
	WatchSnapshot   = "snapshot"
	WatchTransition = "transition"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func (r *Router) handleWatch(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := r.sup.Reporter().Subscribe()
	defer cancel()

	// read side only handles control frames and notices the peer leaving
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(watchPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(watchPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeFrame(conn, WatchMessage{Type: WatchSnapshot, Statuses: r.sup.Report()}); err != nil {
		return
	}

	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case e, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(watchWriteWait))
				return
			}
			if err := writeFrame(conn, WatchMessage{Type: WatchTransition, Transition: &e}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, m WatchMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
	return conn.WriteJSON(m)
}
