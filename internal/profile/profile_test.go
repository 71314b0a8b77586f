package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	tbl := DefaultTable()
	assert.Equal(t, []string{"kpz101", "ksg101", "tpz001"}, tbl.Names())

	p, err := tbl.Lookup(DefaultName)
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), p.Host)
	assert.Equal(t, byte(0x50), p.Node)
	assert.Equal(t, uint16(1), p.Channel)
	assert.Equal(t, 6, p.Layout.HeaderLen)
	assert.Equal(t, byte(0x80), p.Layout.DataFlag)
	assert.False(t, p.Layout.HasMagic)
	assert.Contains(t, p.Layout.ValidNodes, byte(0x50))
	assert.Equal(t, 75.0, p.VoltageLimit)
	assert.Equal(t, []int{75, 100, 150}, p.Limits())
	assert.Equal(t, uint32(0x80000000), p.StatusBits.Enabled)
	assert.Equal(t, []uint16{0x0080, 0x0081}, p.Reject)

	c, err := p.Command(CmdReqStatusUpdate)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0660), c.ID)
	assert.Equal(t, uint16(0x0661), c.Reply)

	c, err = p.Command(CmdSetOutputVolts)
	require.NoError(t, err)
	assert.Zero(t, c.Reply)

	_, err = p.Command("pz_bogus")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestInheritedProfile(t *testing.T) {
	p, err := Default("tpz001")
	require.NoError(t, err)
	assert.Equal(t, 150.0, p.VoltageLimit)
	assert.Equal(t, byte(0x50), p.Node)

	c, err := p.Command(CmdGetInfo)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0006), c.ID)

	base, err := Default("kpz101")
	require.NoError(t, err)
	assert.Equal(t, 75.0, base.VoltageLimit)
}

func TestStrainGaugeProfile(t *testing.T) {
	p, err := Default("ksg101")
	require.NoError(t, err)
	assert.Equal(t, byte(0x50), p.Node)

	c, err := p.Command(CmdReqTSGReading)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x07DD), c.ID)
	assert.Equal(t, uint16(0x07DE), c.Reply)

	// inherited commands survive alongside the added ones
	c, err = p.Command(CmdReqStatusUpdate)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0660), c.ID)

	base, err := Default(DefaultName)
	require.NoError(t, err)
	_, err = base.Command(CmdReqTSGReading)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestCommandByID(t *testing.T) {
	p, err := Default(DefaultName)
	require.NoError(t, err)

	c, ok := p.CommandByID(0x0645)
	require.True(t, ok)
	assert.Equal(t, CmdGetOutputVolts, c.Name)

	_, ok = p.CommandByID(0xBEEF)
	assert.False(t, ok)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Default("kdc101")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "layouts: [\n"},
		{"unknown layout", "profiles:\n  x:\n    layout: nope\n"},
		{"inheritance cycle", "profiles:\n  a:\n    inherits: b\n  b:\n    inherits: a\n"},
		{"unknown parent", "profiles:\n  a:\n    inherits: ghost\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParseRejectsMissingCommands(t *testing.T) {
	doc := `
layouts:
  apt: {header_len: 6, id_offset: 0, len_offset: 2, dest_offset: 4, src_offset: 5, data_flag: 0x80, max_payload: 255}
profiles:
  tiny:
    layout: apt
    host: 0x01
    node: 0x50
    voltage: {default_limit: 75, limits: {75: 1}, full_scale: 32767}
    position: {travel_um: 30, full_scale: 32767}
    commands:
      hw_req_info: {id: 0x0005}
`
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, ErrInvalidProfile)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, defaultTable, 0o600))

	tbl, err := LoadFile(path)
	require.NoError(t, err)
	_, err = tbl.Lookup("tpz001")
	assert.NoError(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
