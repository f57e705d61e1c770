package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockProviderAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	mock := NewMockProvider(start)

	assert.Equal(t, start, mock.Now())

	mock.Advance(250 * time.Millisecond)
	assert.Equal(t, start.Add(250*time.Millisecond), mock.Now())

	mock.Advance(time.Second)
	assert.Equal(t, start.Add(1250*time.Millisecond), mock.Now())
}

func TestOr(t *testing.T) {
	mock := NewMockProvider(time.Unix(0, 0))
	assert.Equal(t, Provider(mock), Or(mock))

	_, isReal := Or(nil).(RealProvider)
	assert.True(t, isReal)
}

func TestRealProviderNow(t *testing.T) {
	before := time.Now()
	got := RealProvider{}.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}
