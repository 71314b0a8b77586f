/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"
	"testing"

	kpz "github.com/allbin/go-kpz"
	"github.com/allbin/go-kpz/internal/link"
	"github.com/allbin/go-kpz/serial"
)

func TestParseControlMode(t *testing.T) {
	tests := []struct {
		name    string
		smooth  bool
		want    kpz.ControlMode
		wantErr bool
	}{
		{"open", false, kpz.OpenLoop, false},
		{"open", true, kpz.OpenLoopSmooth, false},
		{"Closed", false, kpz.ClosedLoop, false},
		{"closed", true, kpz.ClosedLoopSmooth, false},
		{"half", false, 0, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.name, tt.smooth), func(t *testing.T) {
			got, err := parseControlMode(tt.name, tt.smooth)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseControlMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseControlMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseInputSource(t *testing.T) {
	tests := []struct {
		list    string
		want    kpz.InputSource
		wantErr bool
	}{
		{"software", kpz.InputSoftware, false},
		{"external", kpz.InputExternal, false},
		{"pot", kpz.InputPotentiometer, false},
		{"external,pot", kpz.InputExternal | kpz.InputPotentiometer, false},
		{"sw, SMA", kpz.InputExternal, false},
		{"joystick", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.list, func(t *testing.T) {
			got, err := parseInputSource(tt.list)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseInputSource() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseInputSource() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseFeedback(t *testing.T) {
	tests := []struct {
		name    string
		want    kpz.FeedbackSource
		wantErr bool
	}{
		{"", kpz.FeedbackExtSMA, false},
		{"sma", kpz.FeedbackExtSMA, false},
		{"hub-a", kpz.FeedbackHubA, false},
		{"B", kpz.FeedbackHubB, false},
		{"hub-c", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFeedback(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFeedback() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseFeedback() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		name    string
		want    link.Direction
		wantErr bool
	}{
		{"", 0, false},
		{"tx", link.DirSent, false},
		{"RX", link.DirReceived, false},
		{"drop", link.DirDropped, false},
		{"both", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDirection(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDirection() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseDirection() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterPorts(t *testing.T) {
	infos := []*serial.PortInfo{
		{Name: "ttyUSB0", VendorID: "0403", ProductID: "faf0"},
		{Name: "ttyUSB1"},
		{Name: "ttyACM0"},
		{Name: "ttyS0"},
		{Name: "ttyAMA0"},
	}

	tests := []struct {
		filter string
		want   []string
	}{
		{"", []string{"ttyUSB0", "ttyUSB1", "ttyACM0", "ttyS0", "ttyAMA0"}},
		{"all", []string{"ttyUSB0", "ttyUSB1", "ttyACM0", "ttyS0", "ttyAMA0"}},
		{"usb", []string{"ttyUSB0", "ttyUSB1", "ttyACM0"}},
		{"standard", []string{"ttyS0"}},
		{"arm", []string{"ttyAMA0"}},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			got := filterPorts(infos, tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("filterPorts(%q) returned %d ports, want %d", tt.filter, len(got), len(tt.want))
			}
			for i, info := range got {
				if info.Name != tt.want[i] {
					t.Errorf("filterPorts(%q)[%d] = %s, want %s", tt.filter, i, info.Name, tt.want[i])
				}
			}
		})
	}
}

func TestGetPortType(t *testing.T) {
	tests := []struct {
		info *serial.PortInfo
		want string
	}{
		{&serial.PortInfo{Name: "ttyUSB1"}, "USB Serial"},
		{&serial.PortInfo{Name: "ttyACM0"}, "USB CDC/ACM"},
		{&serial.PortInfo{Name: "ttyAMA0"}, "ARM Serial"},
		{&serial.PortInfo{Name: "ttyS3"}, "Standard Serial"},
		{&serial.PortInfo{Name: "rfcomm0"}, "Serial Port"},
	}

	for _, tt := range tests {
		t.Run(tt.info.Name, func(t *testing.T) {
			if got := getPortType(tt.info); got != tt.want {
				t.Errorf("getPortType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorHint(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		empty bool
	}{
		{"timeout", fmt.Errorf("set voltage: %w", kpz.ErrCommandTimeout), false},
		{"in use", serial.ErrDeviceInUse, false},
		{"range", kpz.ErrOutOfRange, false},
		{"rejected", &kpz.DeviceRejectedError{Command: 0x0643, Code: 3}, false},
		{"unsupported", fmt.Errorf("pz_req_tsg_reading: %w", kpz.ErrUnsupported), false},
		{"other", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := errorHint(tt.err)
			if (hint == "") != tt.empty {
				t.Errorf("errorHint() = %q, want empty %v", hint, tt.empty)
			}
		})
	}
}

func TestFormatGauge(t *testing.T) {
	got := formatGauge(kpz.StrainGaugeReading{Channel: 1, Raw: -16384, Smoothed: -8192, Percent: -50.0015})
	want := "ch1  raw -16384  smoothed  -8192   -50.00%"
	if got != want {
		t.Errorf("formatGauge() = %q, want %q", got, want)
	}
}
