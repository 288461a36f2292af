package utils //nolint:revive // utils is an appropriate package name for utility functions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct{}

func TestIsNilish(t *testing.T) {
	t.Parallel()

	var (
		ptr   *snapshot
		slice []int
		iface error
	)

	assert.True(t, IsNilish(nil))
	assert.True(t, IsNilish(ptr))
	assert.True(t, IsNilish(slice))
	assert.True(t, IsNilish(iface))
	assert.False(t, IsNilish(&snapshot{}))
	assert.False(t, IsNilish(snapshot{}))
	assert.False(t, IsNilish(0))
}

func TestNewPanicError(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewPanicError("guard", nil, nil))

	err := NewPanicError("guard audit", "boom", []byte("stack"))
	require.ErrorIs(t, err, ErrPanicRecovered)
	assert.Equal(t, "recovered from panic in guard audit: boom", err.Error())

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []byte("stack"), pe.Stack)

	cause := errors.New("disk on fire") //nolint:err113
	wrapped := NewPanicError("exec", cause, nil)
	require.ErrorIs(t, wrapped, cause)
	require.ErrorIs(t, wrapped, ErrPanicRecovered)
}
