package link

import "time"

// Status is the last known state of a cube. It is stale (Valid false) until
// the first status reply or push has been applied.
type Status struct {
	Valid             bool
	OutputEnabled     bool
	Voltage           float64 // volts
	Position          float64 // percent of travel
	HasPosition       bool
	ClosedLoop        bool
	ActuatorConnected bool
	Bits              uint32
	ErrorCode         uint16
	MaxVoltage        float64
	UpdatedAt         time.Time
}
