package ws

import (
	"log"
	"time"
)

// startHeartbeat launches the liveness sweep. Every HeartbeatInterval the
// server pings all registered connections and evicts the ones with no
// activity inside the grace window. A chat client that went away without a
// close frame (mobile network drop, laptop lid) is otherwise invisible
// until its room next broadcasts, so the sweep is what keeps presence and
// room membership honest. The goroutine exits when the server shuts down.
func (s *Server) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(s.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.sweepStale()
			}
		}
	}()
}

// sweepStale evicts connections whose last activity is older than the grace
// window (interval + timeout) and pings the rest. The ping is a WebSocket
// control frame; browsers answer it automatically, and any inbound frame
// refreshes the activity stamp.
func (s *Server) sweepStale() {
	grace := s.config.HeartbeatInterval + s.config.HeartbeatTimeout
	now := time.Now()

	for _, c := range s.conns.All() {
		idle := now.Sub(c.LastActive())
		if idle > grace {
			log.Printf("ws: evicting stale session=%s idle=%s", c.ID, idle.Round(time.Second))
			s.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: ping session=%s: %v", c.ID, err)
			s.RemoveConnection(c)
		}
	}
}
