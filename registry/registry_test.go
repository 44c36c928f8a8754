package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikemospan/linux-microkit/shared/api"
)

func TestCreatePDRejectsDuplicateName(t *testing.T) {
	r := New()

	_, err := r.CreatePD("a", 0)
	require.NoError(t, err)

	_, err = r.CreatePD("a", 0)
	require.Error(t, err)
}

func TestCreateRegionRejectsDuplicateName(t *testing.T) {
	r := New()

	_, err := r.CreateRegion("buf", 4096)
	require.NoError(t, err)

	_, err = r.CreateRegion("buf", 4096)
	require.Error(t, err)
	require.NoError(t, r.Teardown())
}

func TestConnectRejectsOutOfRangeChannel(t *testing.T) {
	r := New()

	_, err := r.CreatePD("a", 0)
	require.NoError(t, err)

	_, err = r.CreatePD("b", 0)
	require.NoError(t, err)

	err = r.Connect("a", "b", api.MaxChannelsPerPD)
	require.Error(t, err)

	require.NoError(t, r.Teardown())
}

func TestConnectResolvesPeer(t *testing.T) {
	r := New()

	a, err := r.CreatePD("a", 0)
	require.NoError(t, err)

	b, err := r.CreatePD("b", 0)
	require.NoError(t, err)

	require.NoError(t, r.Connect("a", "b", 1))

	peer, ok := a.Peer(1)
	require.True(t, ok)
	require.Equal(t, b.Name, peer.Name)

	require.NoError(t, r.Teardown())
}

func TestBindRegionAppendsToBothSides(t *testing.T) {
	r := New()

	pd, err := r.CreatePD("a", 0)
	require.NoError(t, err)

	reg, err := r.CreateRegion("buf", 4096)
	require.NoError(t, err)

	require.NoError(t, r.BindRegion("a", "buf", "buffer"))

	require.Len(t, pd.Binds(), 1)
	require.Equal(t, "buffer", pd.Binds()[0].VarName)
	require.Len(t, reg.Bindings(), 1)
	require.Equal(t, "a", reg.Bindings()[0].PD)

	require.NoError(t, r.Teardown())
}

func TestTeardownIsSafeToCallTwice(t *testing.T) {
	r := New()

	_, err := r.CreatePD("a", 0)
	require.NoError(t, err)

	require.NoError(t, r.Teardown())
	require.NoError(t, r.Teardown())
}

func TestPDsAndRegionsPreserveCreationOrder(t *testing.T) {
	r := New()

	names := []string{"c", "a", "b"}
	for _, n := range names {
		_, err := r.CreatePD(n, 0)
		require.NoError(t, err)
	}

	var got []string
	for _, pd := range r.PDs() {
		got = append(got, pd.Name)
	}

	require.Equal(t, names, got)
	require.NoError(t, r.Teardown())
}

func TestCreatePDEnforcesMaxPDs(t *testing.T) {
	r := New()

	for i := 0; i < api.MaxPDs; i++ {
		_, err := r.CreatePD(string(rune('a'+i%26))+string(rune('0'+i/26)), 0)
		require.NoError(t, err)
	}

	_, err := r.CreatePD("overflow", 0)
	require.Error(t, err)

	require.NoError(t, r.Teardown())
}
