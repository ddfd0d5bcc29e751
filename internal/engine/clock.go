package engine

import "time"

// Clock источник времени и ожиданий воркера.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock системные часы.
func RealClock() Clock { return realClock{} }
