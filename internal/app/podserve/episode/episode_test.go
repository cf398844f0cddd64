package episode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestID(t *testing.T) {
	a := ID("https://example.com/watch?v=abc")
	b := ID("https://example.com/watch?v=abc")
	c := ID("https://example.com/watch?v=xyz")

	assert.Equal(t, a, b, "same URL must produce same id")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestIDTrimsWhitespace(t *testing.T) {
	assert.Equal(t, ID("https://example.com/x"), ID("  https://example.com/x\n"))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusDownloading.Terminal())
	assert.True(t, StatusReady.Terminal())
	assert.True(t, StatusFailed.Terminal())
}
