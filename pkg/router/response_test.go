package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorDetailHiddenByDefault(t *testing.T) {
	orig := Debug
	t.Cleanup(func() { Debug = orig })

	Debug = false
	assert.Equal(t, "Failed to send message",
		ErrorDetail("Failed to send message", errors.New("dial tcp: timeout")))
}

func TestErrorDetailShownInDebug(t *testing.T) {
	orig := Debug
	t.Cleanup(func() { Debug = orig })

	Debug = true
	assert.Equal(t, "Failed to send message: dial tcp: timeout",
		ErrorDetail("Failed to send message", errors.New("dial tcp: timeout")))
	assert.Equal(t, "Failed to send message", ErrorDetail("Failed to send message", nil))
}
