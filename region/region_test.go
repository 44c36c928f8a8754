package region

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateMapWriteReadAcrossMappings(t *testing.T) {
	r, err := Create("test-region", 4096)
	require.NoError(t, err)
	defer r.Close()

	a, err := r.Map()
	require.NoError(t, err)
	defer Unmap(a)

	copy(a, "hello shared memory")

	// A second, independent Map of the same region must observe the
	// same bytes - this is the memfd property the whole package exists
	// to provide across an exec() boundary.
	b, err := r.Map()
	require.NoError(t, err)
	defer Unmap(b)

	require.Equal(t, "hello shared memory", string(b[:len("hello shared memory")]))
}

func TestOpenReattachesToSameMemfd(t *testing.T) {
	r, err := Create("test-region-2", 64)
	require.NoError(t, err)
	defer r.Close()

	data, err := r.Map()
	require.NoError(t, err)
	copy(data, []byte("marker"))
	require.NoError(t, Unmap(data))

	reattached := Open("test-region-2", r.Fd(), 64)
	data2, err := reattached.Map()
	require.NoError(t, err)
	defer Unmap(data2)

	require.Equal(t, "marker", string(data2[:6]))
}

func TestCreateRejectsZeroSize(t *testing.T) {
	_, err := Create("zero", 0)
	require.Error(t, err)
}
