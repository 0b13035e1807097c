package jobletd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsChild(t *testing.T) {
	assert.True(t, IsChild([]string{"run-joblet", "--id", "x"}))
	assert.False(t, IsChild([]string{"serve"}))
	assert.False(t, IsChild(nil))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
	assert.Equal(t, 7, ExitCode(&CodedError{Code: 7}))
	assert.Equal(t, 1, ExitCode(&CodedError{Code: 300}), "out of range for an exit status")
	assert.Equal(t, 1, ExitCode(&CodedError{Code: -1}))
}
