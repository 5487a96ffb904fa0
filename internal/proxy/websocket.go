// Package proxy exposes a live WebSocket passthrough into the managed
// browser's CDP endpoint, used to watch a run or inspect a failed tab that
// was deliberately left open.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server proxies debug connections to the browser.
type Server struct {
	connectURL func() string
}

// NewServer creates a proxy over the browser CDP URL. The URL is resolved
// lazily because the browser may be relaunched.
func NewServer(connectURL func() string) *Server {
	return &Server{connectURL: connectURL}
}

// HandleDebugConnection upgrades the request and pipes frames both ways.
func (s *Server) HandleDebugConnection(w http.ResponseWriter, r *http.Request) {
	chromeURL := s.connectURL()
	if chromeURL == "" {
		http.Error(w, "Browser is not running", http.StatusServiceUnavailable)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer clientConn.Close()

	log.Printf("✅ Debug client connected")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	chromeConn, _, err := websocket.DefaultDialer.DialContext(ctx, chromeURL, nil)
	if err != nil {
		log.Printf("❌ Failed to connect to Chrome: %v", err)
		clientConn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf("Error connecting: %v", err)))
		return
	}
	defer chromeConn.Close()

	errChan := make(chan error, 2)

	go func() {
		errChan <- s.proxyMessages(clientConn, chromeConn, "client→chrome")
	}()
	go func() {
		errChan <- s.proxyMessages(chromeConn, clientConn, "chrome→client")
	}()

	err = <-errChan
	if err != nil && err != io.EOF {
		log.Printf("Debug proxy error: %v", err)
	}

	log.Printf("Debug client disconnected")
}

func (s *Server) proxyMessages(src, dst *websocket.Conn, direction string) error {
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error (%s): %v", direction, err)
			}
			return err
		}

		if err := dst.WriteMessage(messageType, message); err != nil {
			log.Printf("Failed to write message (%s): %v", direction, err)
			return err
		}
	}
}
