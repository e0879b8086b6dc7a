package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainWriter struct{ http.ResponseWriter }

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()

	sse, err := NewSSEWriter(rec)
	require.NoError(t, err)
	require.NoError(t, sse.Event("messages", []string{"xin chào"}))
	require.NoError(t, sse.Comment("keepalive"))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "event: messages\ndata: [\"xin chào\"]\n\n: keepalive\n\n", rec.Body.String())
}

func TestSSEWriterNeedsFlusher(t *testing.T) {
	_, err := NewSSEWriter(plainWriter{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}
