package ws

import (
	"log"
	"time"
)

// HeartbeatConfig tunes the liveness sweep.
type HeartbeatConfig struct {
	Interval time.Duration // sweep period
	Timeout  time.Duration // grace beyond the interval before a client is dead
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat runs the liveness sweep until the server shuts down. Each
// tick it evicts clients with no frame activity within Interval+Timeout and
// pings the rest.
func (s *Server) startHeartbeat(config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.sweepStale(config)
			}
		}
	}()
}

func (s *Server) sweepStale(config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range s.conns.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			log.Printf("ws: heartbeat timeout session=%s idle=%s",
				c.ID, idle.Round(time.Second))
			s.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed session=%s: %v", c.ID, err)
			s.RemoveConnection(c)
		}
	}
}
