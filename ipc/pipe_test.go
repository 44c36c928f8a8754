package ipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPipeReadWrite(t *testing.T) {
	p, err := NewPipe("test-pipe")
	require.NoError(t, err)
	defer p.Close()

	n, err := p.Write.Write([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	buf := make([]byte, 4)
	_, err = p.Read.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestPipeCloseIsIdempotentWhenOneEndAlreadyClosed(t *testing.T) {
	p, err := NewPipe("test-pipe-2")
	require.NoError(t, err)

	require.NoError(t, p.Write.Close())
	p.Write = nil

	require.NoError(t, p.Close())
}
