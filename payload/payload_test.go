package payload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type noopPayload struct{}

func (noopPayload) Init(ctx *Context) error { return nil }
func (noopPayload) Notified(ch uint64)       {}

func TestRegisterAndLookup(t *testing.T) {
	Register("payload-test-noop", func() Payload { return noopPayload{} })

	p, err := Lookup("payload-test-noop")
	require.NoError(t, err)
	require.IsType(t, noopPayload{}, p)
}

func TestLookupUnknownNameErrors(t *testing.T) {
	_, err := Lookup("payload-test-does-not-exist")
	require.Error(t, err)
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	Register("payload-test-dup", func() Payload { return noopPayload{} })

	require.Panics(t, func() {
		Register("payload-test-dup", func() Payload { return noopPayload{} })
	})
}
