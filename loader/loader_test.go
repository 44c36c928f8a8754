package loader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikemospan/linux-microkit/registry"
	"github.com/mikemospan/linux-microkit/sysdesc"
)

func TestLoadPopulatesRegistryInDependencyOrder(t *testing.T) {
	desc := &sysdesc.Description{
		PDs: []sysdesc.PD{
			{Name: "a", Payload: "testpd-hello-sender"},
			{Name: "b", Payload: "testpd-hello-receiver"},
		},
		Regions: []sysdesc.Region{
			{Name: "buf", Size: 4096},
		},
		Bindings: []sysdesc.Binding{
			{PD: "a", Region: "buf", Var: "buffer"},
			{PD: "b", Region: "buf", Var: "buffer"},
		},
		Channels: []sysdesc.Channel{
			{From: "a", To: "b", Ch: 1},
			{From: "b", To: "a", Ch: 2},
		},
	}

	reg := registry.New()
	require.NoError(t, Load(reg, desc))
	defer reg.Teardown()

	a, ok := reg.PD("a")
	require.True(t, ok)
	require.Equal(t, "testpd-hello-sender", a.PayloadPath)
	require.Len(t, a.Binds(), 1)

	peer, ok := a.Peer(1)
	require.True(t, ok)
	require.Equal(t, "b", peer.Name)
}

func TestLoadFailsOnUnknownPDInChannel(t *testing.T) {
	desc := &sysdesc.Description{
		PDs:      []sysdesc.PD{{Name: "a", Payload: "p"}},
		Channels: []sysdesc.Channel{{From: "a", To: "ghost", Ch: 1}},
	}

	reg := registry.New()
	defer reg.Teardown()

	require.Error(t, Load(reg, desc))
}
