package ndierr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_ThroughWrapping(t *testing.T) {
	base := CascadeRequired("store.delete", "abc", 2)
	wrapped := fmt.Errorf("session close: %w", fmt.Errorf("delete: %w", base))

	assert.True(t, Is(wrapped, KindCascadeRequired))
	assert.False(t, Is(wrapped, KindNotFound))
	assert.Equal(t, KindCascadeRequired, KindOf(wrapped))
}

func TestIs_PlainError(t *testing.T) {
	assert.False(t, Is(errors.New("boom"), KindIOFailure))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}

func TestRetriable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{Transport("cloud.get", io.ErrUnexpectedEOF), true},
		{New(KindAuthFailure, "cloud.get", "token expired"), true},
		{NotFound("store.find", "document", "x"), false},
		{New(KindCapacityExceeded, "cache.add", "too big"), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Retriable(tt.err), "%v", tt.err)
	}
}

func TestError_Message(t *testing.T) {
	err := NotFound("store.find_by_id", "document", "0123")
	assert.Equal(t, "store.find_by_id: NOT_FOUND: document not found (document=0123)", err.Error())

	io := IO("fsstore.write", errors.New("disk full"))
	assert.Equal(t, "fsstore.write: IO_FAILURE: disk full", io.Error())
	assert.ErrorContains(t, io, "disk full")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindIOFailure, "op", cause)
	assert.ErrorIs(t, err, cause)
}
