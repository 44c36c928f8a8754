package api

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	want := Message{Ch: 7, Info: NewMsgInfo(123, 2), SendBack: 9}
	require.NoError(t, WriteMessage(&buf, want))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	want := NewMsgInfo(5, 3)
	require.NoError(t, WriteReply(&buf, want))

	got, err := ReadReply(&buf)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestReadMessageOnEmptyReaderErrors(t *testing.T) {
	var buf bytes.Buffer
	_, err := ReadMessage(&buf)
	require.Error(t, err)
}
