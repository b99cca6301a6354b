package rlerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(KindCorrupt, "checksum mismatch", cause)
	assert.ErrorIs(t, e, cause)
	assert.Equal(t, KindCorrupt, e.Kind())
}

func TestAsAndOf(t *testing.T) {
	e := New(KindEndianMismatch, "swapped magic")
	wrapped := errors.New("context: " + e.Error())
	assert.False(t, As(wrapped, KindEndianMismatch)) // string wrapping isn't error wrapping

	var err error = e
	assert.True(t, As(err, KindEndianMismatch))

	got, ok := Of(err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Kind().ExitCode())
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, 1, KindEndianMismatch.ExitCode())
	assert.Equal(t, int(syscallENOSYS), KindNotSupported.ExitCode())
}

func TestEngineFailureReturncode(t *testing.T) {
	e := WithReturncode("llama-server exited", errors.New("signal: killed"), 137)
	assert.Equal(t, 137, e.Returncode)
	assert.Equal(t, KindEngineFailure, e.Kind())
}
