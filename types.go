package kpz

import (
	"github.com/allbin/go-kpz/internal/link"
	"github.com/allbin/go-kpz/internal/registry"
)

// Handle identifies a registered cube.
type Handle = registry.Handle

// ParseHandle parses the textual form of a Handle.
func ParseHandle(s string) (Handle, error) { return registry.ParseHandle(s) }

// Address is the physical address of a cube: endpoint plus node address.
type Address = link.Address

// Status is the last known state of a cube.
type Status = link.Status

// ControlMode selects open or closed loop operation.
type ControlMode uint16

const (
	OpenLoop         ControlMode = 1
	ClosedLoop       ControlMode = 2
	OpenLoopSmooth   ControlMode = 3
	ClosedLoopSmooth ControlMode = 4
)

func (m ControlMode) String() string {
	switch m {
	case OpenLoop:
		return "open-loop"
	case ClosedLoop:
		return "closed-loop"
	case OpenLoopSmooth:
		return "open-loop-smooth"
	case ClosedLoopSmooth:
		return "closed-loop-smooth"
	default:
		return "unknown"
	}
}

// InputSource is a bitmask of the analog sources summed into the HV output.
// Software input is always active.
type InputSource uint16

const (
	InputSoftware      InputSource = 0x00
	InputExternal      InputSource = 0x01
	InputPotentiometer InputSource = 0x02
)

// FeedbackSource routes the strain gauge signal in closed loop operation.
type FeedbackSource uint16

const (
	FeedbackHubA   FeedbackSource = 0x01
	FeedbackHubB   FeedbackSource = 0x02
	FeedbackExtSMA FeedbackSource = 0x03
)

// HardwareInfo is the cube's identification block.
type HardwareInfo struct {
	SerialNumber    uint32
	Model           string
	Type            uint16
	Firmware        string
	Notes           string
	HardwareVersion uint16
	ModState        uint16
	Channels        uint16
}

// StrainGaugeReading is one sample from a strain gauge reader. Raw spans
// -32768 to 32767 for -100% to 100% of the gauge's full scale.
type StrainGaugeReading struct {
	Channel  uint16
	Raw      int16
	Smoothed int16
	Percent  float64
}

// Message is a frame from a cube that did not answer a command.
type Message struct {
	ID      uint16
	Node    byte
	Params  [2]byte
	Payload []byte

	// Status is set when the message was a status push.
	Status *Status
}

// Observer receives unsolicited messages. It runs on the session's read
// goroutine and must return quickly.
type Observer func(h Handle, m Message)
