package backoff

import (
	"math/rand"
	"time"
)

// Backoff считает сбои подряд и выдаёт паузу Min*Factor^(n-1), не больше Max.
// Успех сбрасывает счётчик. Не для конкурентного использования.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64 // доля от задержки, 0 без разброса

	failures int
}

// Fail отмечает очередной сбой и возвращает паузу до следующей попытки.
func (b *Backoff) Fail() time.Duration {
	b.failures++
	return b.jitter(b.delay(b.failures))
}

// Reset после успешной попытки.
func (b *Backoff) Reset() { b.failures = 0 }

// Failures сбоев подряд.
func (b *Backoff) Failures() int { return b.failures }

func (b *Backoff) delay(n int) time.Duration {
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < n; i++ {
		next := time.Duration(float64(wait) * factor)
		if next >= max {
			return max
		}
		wait = next
	}
	return wait
}

func (b *Backoff) jitter(wait time.Duration) time.Duration {
	if b.Jitter <= 0 {
		return wait
	}
	j := b.Jitter
	if j > 1 {
		j = 1
	}
	delta := float64(wait) * j
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
