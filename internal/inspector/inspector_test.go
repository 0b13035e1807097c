package inspector

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemContainsSelf(t *testing.T) {
	set, err := System{}.LivePIDs(context.Background())
	require.NoError(t, err)
	assert.True(t, set.Has(os.Getpid()), "own pid must be reported alive")
}

func TestStatic(t *testing.T) {
	s := NewStatic(1, 3)
	set, err := s.LivePIDs(context.Background())
	require.NoError(t, err)
	assert.True(t, set.Has(1))
	assert.False(t, set.Has(2))

	// returned set is a copy
	delete(set, 1)
	again, _ := s.LivePIDs(context.Background())
	assert.True(t, again.Has(1))

	s.Set(2)
	set, _ = s.LivePIDs(context.Background())
	assert.Equal(t, NewPIDSet(2), set)

	boom := errors.New("boom")
	s.Fail(boom)
	_, err = s.LivePIDs(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFunc(t *testing.T) {
	f := Func(func(context.Context) (PIDSet, error) { return NewPIDSet(7), nil })
	set, err := f.LivePIDs(context.Background())
	require.NoError(t, err)
	assert.True(t, set.Has(7))
}
