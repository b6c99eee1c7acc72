package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/corelaunch/chartfeed/feed"
	"github.com/corelaunch/chartfeed/interval"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The feed serves first-party frontends; origin policy is the
	// reverse proxy's job.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// controlMsg is what a chart client may send: switch the interval or
// force a refresh.
type controlMsg struct {
	Interval string `json:"interval,omitempty"`
	Refresh  bool   `json:"refresh,omitempty"`
}

// handleChartStream upgrades the connection and streams every chart
// update for the requested token. Each connection gets its own
// controller — one mounted chart, one timer — torn down with the
// connection.
func (s *Server) handleChartStream(w http.ResponseWriter, r *http.Request) {
	tokenID, iv, err := chartParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: upgrade: %v", err)
		return
	}

	ctrl, err := feed.NewController(feed.Config{
		Source:   s.source,
		TokenID:  tokenID,
		Interval: iv,
	})
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl.Start(ctx)
	defer ctrl.Close()

	// Keep only the freshest pending update; a slow client skips
	// intermediate frames instead of lagging behind.
	updates := make(chan feed.Update, 1)
	tok := ctrl.Subscribe(func(u feed.Update) {
		for {
			select {
			case updates <- u:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	defer tok.Unsubscribe()

	go s.readControl(ctx, cancel, conn, ctrl)
	s.writeUpdates(ctx, conn, updates)
}

// readControl consumes client frames until the connection dies,
// applying interval switches and manual refreshes.
func (s *Server) readControl(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, ctrl *feed.Controller) {
	defer cancel()

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("server: bad control frame: %v", err)
			continue
		}
		if msg.Interval != "" {
			if err := ctrl.SetInterval(interval.Interval(msg.Interval)); err != nil {
				log.Printf("server: interval switch: %v", err)
			}
		}
		if msg.Refresh {
			ctrl.Refresh(ctx)
		}
	}
}

// writeUpdates owns the write side of the connection: updates as JSON
// text frames plus keepalive pings.
func (s *Server) writeUpdates(ctx context.Context, conn *websocket.Conn, updates <-chan feed.Update) {
	defer conn.Close()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case u := <-updates:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
