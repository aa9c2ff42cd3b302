package prompt

import (
	"fmt"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
)

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(promptui.ErrInterrupt))
	assert.True(t, IsAborted(fmt.Errorf("init: %w", ErrAborted)))
	assert.False(t, IsAborted(fmt.Errorf("other")))
}

func TestValidators(t *testing.T) {
	assert.Error(t, nonEmpty(""))
	assert.NoError(t, nonEmpty("node-a"))

	for _, ok := range []string{"1", "6666", "65535"} {
		assert.NoError(t, validPort(ok), ok)
	}
	for _, bad := range []string{"0", "65536", "port", ""} {
		assert.Error(t, validPort(bad), bad)
	}
}
