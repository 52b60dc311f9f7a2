package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/portalkeep/portalkeep/internal/api"
	"github.com/portalkeep/portalkeep/internal/eventbus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingPeriod   = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	// The socket is a local unix socket with 0600 permissions; browser
	// origin checks do not apply here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades the connection and streams login, probe and config
// events as JSON text frames until the client disconnects.
func (s *APIServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[APIServer] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	outcomes := eventbus.SubscribeTo(s.bus, eventbus.Login.Outcome,
		eventbus.WithSubscriptionName("ws.outcomes"))
	defer outcomes.Close()
	probes := eventbus.SubscribeTo(s.bus, eventbus.Probe.Status,
		eventbus.WithSubscriptionName("ws.probes"))
	defer probes.Close()
	reloads := eventbus.SubscribeTo(s.bus, eventbus.Config.Reloaded,
		eventbus.WithSubscriptionName("ws.reloads"))
	defer reloads.Close()

	// Read pump: discard client frames, detect disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	send := func(msg api.EventMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return false
		}
		return true
	}

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return

		case env, ok := <-outcomes.C():
			if !ok {
				return
			}
			if !send(api.EventMessage{
				Type:      string(env.Topic),
				Timestamp: env.Timestamp,
				Data:      api.OutcomeFromEvent(env.Payload),
			}) {
				return
			}

		case env, ok := <-probes.C():
			if !ok {
				return
			}
			if !send(api.EventMessage{
				Type:      string(env.Topic),
				Timestamp: env.Timestamp,
				Data:      api.ProbeFromEvent(env.Payload),
			}) {
				return
			}

		case env, ok := <-reloads.C():
			if !ok {
				return
			}
			if !send(api.EventMessage{
				Type:      string(env.Topic),
				Timestamp: env.Timestamp,
				Data:      api.ReloadFromEvent(env.Payload),
			}) {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
