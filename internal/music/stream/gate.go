package stream

import "sync"

// Gate blocks the send loop while playback is paused.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
}

func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *Gate) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

func (g *Gate) Resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
	g.cond.Broadcast()
}

func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait returns once the gate is open. Release must be called on stop so a
// paused sender does not hang forever.
func (g *Gate) Wait() {
	g.mu.Lock()
	for g.paused {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// Release opens the gate unconditionally.
func (g *Gate) Release() {
	g.Resume()
}
