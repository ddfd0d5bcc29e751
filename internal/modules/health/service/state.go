package service

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected atomic.Bool

	mu    sync.RWMutex
	ticks map[string]time.Time // symbol -> последний тик
}

func NewState() *State {
	s := &State{startedAt: time.Now(), ticks: make(map[string]time.Time)}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) TouchTick(symbol string, t time.Time) {
	s.mu.Lock()
	s.ticks[symbol] = t
	s.mu.Unlock()
}

// LastTick самый свежий тик по всем символам.
func (s *State) LastTick() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, t := range s.ticks {
		if t.After(last) {
			last = t
		}
	}
	return last
}

// Ticks unix-время последнего тика по символам.
func (s *State) Ticks() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(s.ticks))
	for sym, t := range s.ticks {
		out[sym] = t.Unix()
	}
	return out
}

// Stale символы без тика дольше maxAge.
func (s *State) Stale(now time.Time, maxAge time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for sym, t := range s.ticks {
		if now.Sub(t) > maxAge {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
