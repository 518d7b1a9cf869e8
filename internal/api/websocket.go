package api

import (
	"FlipTradeBot/internal/models"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Update is the message pushed to websocket clients.
type Update struct {
	Type      string                `json:"type"`
	Report    models.ScanReport     `json:"report"`
	Heartbeat models.Heartbeat      `json:"heartbeat"`
	Positions []models.PositionView `json:"positions"`
}

func (s *Server) snapshot(kind string) Update {
	return Update{
		Type:      kind,
		Report:    s.state.Report(),
		Heartbeat: s.state.Heartbeat(),
		Positions: s.positionViews(),
	}
}

// handleWebsocket sends a snapshot on connect and then one per push interval
// until the client goes away.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.push(conn, "snapshot"); err != nil {
		return
	}
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := s.push(conn, "update"); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn, kind string) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(s.snapshot(kind)); err != nil {
		log.WithError(err).Debug("websocket client dropped")
		return err
	}
	return nil
}
