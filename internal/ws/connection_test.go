package ws

import (
	"sync"
	"testing"
	"time"
)

// The heartbeat sweep reads activity timestamps while read goroutines record
// them, so the pair must be safe under the race detector.
func TestConnectionLastSeenConcurrentAccess(t *testing.T) {
	c := &Connection{ID: "sess-1"}
	start := time.Now()
	c.Touch()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Touch()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if c.LastSeen().Before(start) {
					t.Error("LastSeen() went backwards past the first touch")
					return
				}
			}
		}()
	}
	wg.Wait()

	if idle := time.Since(c.LastSeen()); idle > time.Minute {
		t.Errorf("idle = %s after touching, want recent", idle)
	}
}
