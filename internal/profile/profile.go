// Package profile loads the device-family protocol table: header layouts,
// command ids, node addresses and unit scaling for each controller model.
package profile

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/allbin/go-kpz/internal/frame"
)

//go:embed profiles.yaml
var defaultTable []byte

// DefaultName is the profile used when none is configured.
const DefaultName = "kpz101"

var (
	ErrUnknownProfile = errors.New("unknown device profile")
	ErrUnknownCommand = errors.New("command not in device profile")
	ErrInvalidProfile = errors.New("invalid device profile")
)

// Command names used by the controller.
const (
	CmdDisconnect          = "hw_disconnect"
	CmdReqInfo             = "hw_req_info"
	CmdGetInfo             = "hw_get_info"
	CmdStartUpdates        = "hw_start_update_msgs"
	CmdStopUpdates         = "hw_stop_update_msgs"
	CmdResponse            = "hw_response"
	CmdRichResponse        = "hw_rich_response"
	CmdSetChanEnableState  = "mod_set_chan_enable_state"
	CmdReqChanEnableState  = "mod_req_chan_enable_state"
	CmdGetChanEnableState  = "mod_get_chan_enable_state"
	CmdIdentify            = "mod_identify"
	CmdSetPosControlMode   = "pz_set_pos_control_mode"
	CmdSetOutputVolts      = "pz_set_output_volts"
	CmdReqOutputVolts      = "pz_req_output_volts"
	CmdGetOutputVolts      = "pz_get_output_volts"
	CmdSetOutputPos        = "pz_set_output_pos"
	CmdSetInputVoltsSource = "pz_set_input_volts_src"
	CmdSetPIConsts         = "pz_set_pi_consts"
	CmdSetZero             = "pz_set_zero"
	CmdReqStatusUpdate     = "pz_req_status_update"
	CmdGetStatusUpdate     = "pz_get_status_update"
	CmdAckStatusUpdate     = "pz_ack_status_update"
	CmdSetIOSettings       = "pz_set_tpz_io_settings"

	// Strain gauge readers only.
	CmdSetTSGIOSettings = "pz_set_tsg_io_settings"
	CmdReqTSGReading    = "pz_req_tsg_reading"
	CmdGetTSGReading    = "pz_get_tsg_reading"
)

var requiredCommands = []string{
	CmdReqInfo, CmdGetInfo, CmdStartUpdates, CmdStopUpdates,
	CmdSetChanEnableState, CmdIdentify, CmdSetPosControlMode,
	CmdSetOutputVolts, CmdReqOutputVolts, CmdGetOutputVolts, CmdSetOutputPos,
	CmdSetInputVoltsSource, CmdSetPIConsts, CmdSetZero,
	CmdReqStatusUpdate, CmdGetStatusUpdate, CmdSetIOSettings,
}

// Command is one message id and the id of the reply it solicits, if any.
type Command struct {
	Name  string
	ID    uint16
	Reply uint16
}

// StatusBits locates flags inside the 32-bit status word.
type StatusBits struct {
	ActuatorConnected uint32 `yaml:"actuator_connected"`
	Zeroing           uint32 `yaml:"zeroing"`
	Zeroed            uint32 `yaml:"zeroed"`
	ClosedLoop        uint32 `yaml:"closed_loop"`
	Enabled           uint32 `yaml:"enabled"`
}

// Profile describes one controller family.
type Profile struct {
	Name        string
	Description string
	Layout      frame.Layout
	Host        byte
	Node        byte
	Channel     uint16

	VoltageLimit     float64       // default output limit in volts
	VoltageLimits    map[int]uint8 // selectable limits and their io-settings codes
	VoltageFullScale int

	TravelUM          float64
	PositionFullScale int

	StatusBits StatusBits
	Reject     []uint16

	commands map[string]Command
}

// Command returns the named command.
func (p *Profile) Command(name string) (Command, error) {
	c, ok := p.commands[name]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s (profile %s)", ErrUnknownCommand, name, p.Name)
	}
	return c, nil
}

// CommandByID returns the command with message id id.
func (p *Profile) CommandByID(id uint16) (Command, bool) {
	for _, c := range p.commands {
		if c.ID == id {
			return c, true
		}
	}
	return Command{}, false
}

// Limits returns the selectable voltage limits in ascending order.
func (p *Profile) Limits() []int {
	out := make([]int, 0, len(p.VoltageLimits))
	for v := range p.VoltageLimits {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Table is a parsed protocol table.
type Table struct {
	profiles map[string]*Profile
}

type layoutSpec struct {
	HeaderLen   int    `yaml:"header_len"`
	Magic       *uint8 `yaml:"magic"`
	MagicOffset int    `yaml:"magic_offset"`
	IDOffset    int    `yaml:"id_offset"`
	LenOffset   int    `yaml:"len_offset"`
	DestOffset  int    `yaml:"dest_offset"`
	SrcOffset   int    `yaml:"src_offset"`
	DataFlag    uint8  `yaml:"data_flag"`
	MaxPayload  int    `yaml:"max_payload"`
}

type commandSpec struct {
	ID    uint16 `yaml:"id"`
	Reply string `yaml:"reply"`
}

type profileSpec struct {
	Description string  `yaml:"description"`
	Inherits    string  `yaml:"inherits"`
	Layout      string  `yaml:"layout"`
	Host        uint8   `yaml:"host"`
	Node        uint8   `yaml:"node"`
	Channel     uint16  `yaml:"channel"`
	Nodes       []uint8 `yaml:"nodes"`
	Voltage     struct {
		DefaultLimit float64       `yaml:"default_limit"`
		Limits       map[int]uint8 `yaml:"limits"`
		FullScale    int           `yaml:"full_scale"`
	} `yaml:"voltage"`
	Position struct {
		TravelUM  float64 `yaml:"travel_um"`
		FullScale int     `yaml:"full_scale"`
	} `yaml:"position"`
	StatusBits StatusBits             `yaml:"status_bits"`
	Reject     []string               `yaml:"reject"`
	Commands   map[string]commandSpec `yaml:"commands"`
}

type tableSpec struct {
	Layouts  map[string]layoutSpec `yaml:"layouts"`
	Profiles map[string]yaml.Node  `yaml:"profiles"`
}

// Parse parses and validates a protocol table.
func Parse(data []byte) (*Table, error) {
	var spec tableSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	t := &Table{profiles: make(map[string]*Profile, len(spec.Profiles))}
	for name := range spec.Profiles {
		ps, err := resolve(spec.Profiles, name)
		if err != nil {
			return nil, err
		}
		p, err := build(name, ps, spec.Layouts)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		t.profiles[name] = p
	}
	return t, nil
}

// LoadFile reads a protocol table from path.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile table: %w", err)
	}
	return Parse(data)
}

// DefaultTable returns the built-in table.
func DefaultTable() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("built-in profile table: %v", err))
	}
	return t
}

// Default returns the named profile from the built-in table.
func Default(name string) (*Profile, error) {
	return DefaultTable().Lookup(name)
}

// Lookup returns the named profile.
func (t *Table) Lookup(name string) (*Profile, error) {
	p, ok := t.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names returns the profile names in the table, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.profiles))
	for name := range t.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolve decodes the inheritance chain of name, root first, into one spec.
func resolve(nodes map[string]yaml.Node, name string) (profileSpec, error) {
	var chain []yaml.Node
	seen := make(map[string]bool)
	for cur := name; cur != ""; {
		if seen[cur] {
			return profileSpec{}, fmt.Errorf("%w: inheritance cycle at %s", ErrInvalidProfile, cur)
		}
		seen[cur] = true
		node, ok := nodes[cur]
		if !ok {
			return profileSpec{}, fmt.Errorf("%w: %s inherits unknown profile %q", ErrInvalidProfile, name, cur)
		}
		chain = append(chain, node)

		var head struct {
			Inherits string `yaml:"inherits"`
		}
		if err := node.Decode(&head); err != nil {
			return profileSpec{}, fmt.Errorf("profile %s: %w", cur, err)
		}
		cur = head.Inherits
	}

	var ps profileSpec
	for i := len(chain) - 1; i >= 0; i-- {
		if err := chain[i].Decode(&ps); err != nil {
			return profileSpec{}, fmt.Errorf("profile %s: %w", name, err)
		}
	}
	return ps, nil
}

func build(name string, ps profileSpec, layouts map[string]layoutSpec) (*Profile, error) {
	ls, ok := layouts[ps.Layout]
	if !ok {
		return nil, fmt.Errorf("%w: unknown layout %q", ErrInvalidProfile, ps.Layout)
	}
	layout := frame.Layout{
		HeaderLen:   ls.HeaderLen,
		MagicOffset: ls.MagicOffset,
		IDOffset:    ls.IDOffset,
		LenOffset:   ls.LenOffset,
		DestOffset:  ls.DestOffset,
		SrcOffset:   ls.SrcOffset,
		DataFlag:    ls.DataFlag,
		MaxPayload:  ls.MaxPayload,
		ValidNodes:  ps.Nodes,
	}
	if ls.Magic != nil {
		layout.HasMagic = true
		layout.Magic = *ls.Magic
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	p := &Profile{
		Name:              name,
		Description:       ps.Description,
		Layout:            layout,
		Host:              ps.Host,
		Node:              ps.Node,
		Channel:           ps.Channel,
		VoltageLimit:      ps.Voltage.DefaultLimit,
		VoltageLimits:     ps.Voltage.Limits,
		VoltageFullScale:  ps.Voltage.FullScale,
		TravelUM:          ps.Position.TravelUM,
		PositionFullScale: ps.Position.FullScale,
		StatusBits:        ps.StatusBits,
		commands:          make(map[string]Command, len(ps.Commands)),
	}

	for cname, cs := range ps.Commands {
		p.commands[cname] = Command{Name: cname, ID: cs.ID}
	}
	for cname, cs := range ps.Commands {
		if cs.Reply == "" {
			continue
		}
		reply, ok := p.commands[cs.Reply]
		if !ok {
			return nil, fmt.Errorf("%w: %s replies with unknown command %q", ErrInvalidProfile, cname, cs.Reply)
		}
		c := p.commands[cname]
		c.Reply = reply.ID
		p.commands[cname] = c
	}
	for _, rname := range ps.Reject {
		c, ok := p.commands[rname]
		if !ok {
			return nil, fmt.Errorf("%w: unknown reject command %q", ErrInvalidProfile, rname)
		}
		p.Reject = append(p.Reject, c.ID)
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) validate() error {
	for _, name := range requiredCommands {
		if _, ok := p.commands[name]; !ok {
			return fmt.Errorf("%w: missing command %s", ErrInvalidProfile, name)
		}
	}
	if p.VoltageFullScale <= 0 || p.PositionFullScale <= 0 || p.TravelUM <= 0 {
		return fmt.Errorf("%w: scaling must be positive", ErrInvalidProfile)
	}
	if _, ok := p.VoltageLimits[int(p.VoltageLimit)]; !ok || float64(int(p.VoltageLimit)) != p.VoltageLimit {
		return fmt.Errorf("%w: default voltage limit %v not selectable", ErrInvalidProfile, p.VoltageLimit)
	}
	if p.Layout.DataFlag != 0 && (p.Host&p.Layout.DataFlag != 0 || p.Node&p.Layout.DataFlag != 0) {
		return fmt.Errorf("%w: node address collides with data flag", ErrInvalidProfile)
	}
	if len(p.Layout.ValidNodes) > 0 && (!hasNode(p.Layout.ValidNodes, p.Host) || !hasNode(p.Layout.ValidNodes, p.Node)) {
		return fmt.Errorf("%w: host/node not in address list", ErrInvalidProfile)
	}
	return nil
}

func hasNode(nodes []byte, n byte) bool {
	for _, v := range nodes {
		if v == n {
			return true
		}
	}
	return false
}
