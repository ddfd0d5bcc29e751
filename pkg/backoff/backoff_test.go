package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFail(t *testing.T) {
	b := &Backoff{Min: 10 * time.Second, Max: 60 * time.Second, Factor: 2}

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Fail())
	}
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}, got)
	assert.Equal(t, 5, b.Failures())

	b.Reset()
	assert.Zero(t, b.Failures())
	assert.Equal(t, 10*time.Second, b.Fail())
}

func TestDefaults(t *testing.T) {
	b := &Backoff{}
	assert.Equal(t, 100*time.Millisecond, b.Fail())
	assert.Equal(t, 100*time.Millisecond, b.Fail(), "max below min clamps to min")
}

func TestJitterBounds(t *testing.T) {
	b := &Backoff{Min: time.Second, Max: time.Second, Jitter: 0.2}
	for i := 0; i < 100; i++ {
		d := b.Fail()
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}
