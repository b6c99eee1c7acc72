package main

import (
	"log"
	"net/url"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/corelaunch/chartfeed/feed"
)

// controlMsg mirrors the server's chart-stream control frame.
type controlMsg struct {
	Interval string `json:"interval,omitempty"`
	Refresh  bool   `json:"refresh,omitempty"`
}

// stream maintains the WebSocket session to the feed daemon,
// reconnecting on error.
type stream struct {
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *stream) send(msg controlMsg) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("client: send control: %v", err)
	}
}

// run dials and reads updates forever, pushing them to ch.
func (s *stream) run(ch chan<- feed.Update) {
	for {
		if err := s.connectAndRead(ch); err != nil {
			log.Printf("client: stream error: %v — retrying in 3s", err)
		}
		time.Sleep(3 * time.Second)
	}
}

func (s *stream) connectAndRead(ch chan<- feed.Update) error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var u feed.Update
		if err := conn.ReadJSON(&u); err != nil {
			return err
		}
		ch <- u
	}
}

func main() {
	godotenv.Load()
	log.SetOutput(os.Stderr)

	base := getEnv("FEED_ADDR", "ws://localhost:8080")
	tokenID := getEnv("TOKEN", "")
	iv := getEnv("INTERVAL", "5m")
	if tokenID == "" {
		log.Fatal("client: TOKEN is required")
	}

	u, err := url.Parse(base + "/ws/chart")
	if err != nil {
		log.Fatalf("client: bad FEED_ADDR: %v", err)
	}
	q := u.Query()
	q.Set("token", tokenID)
	q.Set("interval", iv)
	u.RawQuery = q.Encode()

	st := &stream{url: u.String()}
	ch := make(chan feed.Update, 16)
	go st.run(ch)

	p := tea.NewProgram(
		newModel(tokenID, iv, ch, st.send),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil {
		log.Fatalf("client: tui error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
