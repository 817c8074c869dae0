package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesKind(t *testing.T) {
	cause := errors.New("disk full")
	f := Wrap(IoError, cause, "append log segment")
	require.Error(t, f)
	assert.Equal(t, IoError, f.Kind())
	assert.True(t, Is(f, IoError))
	assert.False(t, Is(f, NotFound))
}

func TestAnnotatePreservesKind(t *testing.T) {
	cause := errors.New("region header mismatch")
	f := Annotate(InvalidArgument, cause, "attach region %s", "home")
	assert.Equal(t, InvalidArgument, f.Kind())
	assert.Contains(t, f.Error(), "region header mismatch")
}

func TestNewHasNoCause(t *testing.T) {
	f := New(NotFound, "lsn past end of log")
	assert.Nil(t, f.Unwrap())
}
