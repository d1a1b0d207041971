package limiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsExactlyN(t *testing.T) {
	l := New(3)
	forwarded := 0
	for i := 0; i < 10; i++ {
		ok, _ := l.Allow()
		if ok {
			forwarded++
		}
	}
	assert.Equal(t, 3, forwarded)
}

func TestLimiterDoneSignalFiresOnce(t *testing.T) {
	l := New(2)
	_, done1 := l.Allow()
	_, done2 := l.Allow()
	_, done3 := l.Allow()
	assert.False(t, done1)
	assert.True(t, done2)
	assert.False(t, done3)
}

func TestUnlimitedWhenZero(t *testing.T) {
	l := New(0)
	for i := 0; i < 1000; i++ {
		ok, done := l.Allow()
		assert.True(t, ok)
		assert.False(t, done)
	}
}
