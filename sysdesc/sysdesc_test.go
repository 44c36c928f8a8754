package sysdesc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validYAML = `
pds:
  - name: a
    payload: testpd-hello-sender
    stack_size: 4096
  - name: b
    payload: testpd-hello-receiver
regions:
  - name: buf
    size: 4096
bindings:
  - pd: a
    region: buf
    var: buffer
  - pd: b
    region: buf
    var: buffer
channels:
  - from: a
    to: b
    ch: 1
  - from: b
    to: a
    ch: 2
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "system.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidDescription(t *testing.T) {
	path := writeTemp(t, validYAML)

	desc, err := Load(path)
	require.NoError(t, err)
	require.Len(t, desc.PDs, 2)
	require.Len(t, desc.Regions, 1)
	require.Len(t, desc.Bindings, 2)
	require.Len(t, desc.Channels, 2)
}

func TestLoadRejectsDuplicatePDName(t *testing.T) {
	path := writeTemp(t, `
pds:
  - name: a
    payload: p
  - name: a
    payload: p
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBindingToUnknownRegion(t *testing.T) {
	path := writeTemp(t, `
pds:
  - name: a
    payload: p
bindings:
  - pd: a
    region: missing
    var: buffer
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEmptyPDList(t *testing.T) {
	path := writeTemp(t, "pds: []\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsChannelToUnknownPD(t *testing.T) {
	path := writeTemp(t, `
pds:
  - name: a
    payload: p
channels:
  - from: a
    to: ghost
    ch: 1
`)

	_, err := Load(path)
	require.Error(t, err)
}
