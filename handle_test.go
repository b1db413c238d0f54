package quicbind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleLayout(t *testing.T) {
	h := newHandle(KindConnection, 0x00ABCDEF, 0xDEADBEEF)
	assert.Equal(t, KindConnection, h.Kind())
	assert.EqualValues(t, 0x00ABCDEF, h.generation())
	assert.EqualValues(t, 0xDEADBEEF, h.index())
	assert.True(t, h.Validate())
}

func TestHandleGenerationMask(t *testing.T) {
	// Generations live in 24 bits; anything above must wrap, never leak
	// into the kind byte.
	h := newHandle(KindSession, handleGenMask+2, 7)
	assert.Equal(t, KindSession, h.Kind())
	assert.EqualValues(t, 1, h.generation())
	assert.EqualValues(t, 7, h.index())
}

func TestHandleZeroInvalid(t *testing.T) {
	var h Handle
	assert.Equal(t, KindNone, h.Kind())
	assert.False(t, h.Validate())
}

func TestHandleUnknownKind(t *testing.T) {
	h := newHandle(HandleKind(0xFF), 1, 1)
	assert.Equal(t, KindNone, h.Kind())
	assert.False(t, h.Validate())
}

func TestHandleKindString(t *testing.T) {
	tests := []struct {
		kind HandleKind
		want string
	}{
		{KindNone, "none"},
		{KindTransportConfig, "transport-config"},
		{KindConnection, "connection"},
		{KindSessionConfig, "session-config"},
		{KindSession, "session"},
		{KindTLSContext, "tls-context"},
		{KindTLSSession, "tls-session"},
		{HandleKind(42), "invalid"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
