package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStreamShapeEqual(t *testing.T) {
	a := StreamShape{ChannelCount: 1, RecordSizeB: 8, DataTypeSize: 8, DataFormat: "float64", BitDepth: 64}
	b := a
	assert.True(t, a.Equal(b))

	b.BitDepth = 32
	assert.False(t, a.Equal(b))
}

func TestHeaderClone(t *testing.T) {
	h := &Header{Filename: "f0.bin", Description: "d", TimestampUTC: time.Now(), RunDurationMS: 10}
	c := h.Clone()
	c.Description = "changed"
	assert.Equal(t, "d", h.Description)
	assert.Equal(t, "changed", c.Description)
}

func TestContinuationDescription(t *testing.T) {
	got := ContinuationDescription("original", "f0.bin")
	assert.Equal(t, "original\nContinuation of file f0.bin", got)
}
