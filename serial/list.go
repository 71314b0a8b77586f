package serial

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var (
	// Device node names that can carry a serial line
	portPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^ttyUSB\d+$`), // USB serial adapters (FTDI based cubes)
		regexp.MustCompile(`^ttyACM\d+$`), // USB CDC/ACM devices
		regexp.MustCompile(`^ttyS\d+$`),   // Standard serial ports
		regexp.MustCompile(`^ttyAMA\d+$`), // ARM/Raspberry Pi serial
	}

	// Stable per-device symlinks created by udev
	byIDDir = "/dev/serial/by-id"
)

// ListPorts returns the serial device nodes present under /dev, sorted.
func ListPorts() ([]string, error) {
	return listPortsIn("/dev")
}

func listPortsIn(devDir string) ([]string, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, entry := range entries {
		name := entry.Name()
		if !matchesPort(name) {
			continue
		}
		fullPath := filepath.Join(devDir, name)
		if isCharacterDevice(fullPath) {
			ports = append(ports, fullPath)
		}
	}

	sort.Strings(ports)
	return ports, nil
}

func matchesPort(name string) bool {
	for _, pattern := range portPatterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// PortInfo describes one serial device node
type PortInfo struct {
	Name        string
	Path        string
	Description string
	Aliases     []string // /dev/serial/by-id links resolving to Path

	// USB descriptor, empty for on-board ports
	VendorID     string
	ProductID    string
	SerialNumber string
	Manufacturer string
	Product      string
	BusNumber    string
	DeviceNumber string
}

// GetPortInfo returns information about a specific port
func GetPortInfo(portPath string) (*PortInfo, error) {
	if !isCharacterDevice(portPath) {
		return nil, ErrDeviceNotFound
	}

	name := filepath.Base(portPath)
	info := &PortInfo{
		Name:        name,
		Path:        portPath,
		Description: getPortDescription(name),
		Aliases:     aliasesFor(byIDDir, portPath),
	}
	if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
		enrichUSBInfo(info)
	}
	return info, nil
}

// aliasesFor returns the symlinks in dir that resolve to target
func aliasesFor(dir, target string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	want, err := filepath.EvalSymlinks(target)
	if err != nil {
		want = target
	}

	var aliases []string
	for _, entry := range entries {
		link := filepath.Join(dir, entry.Name())
		resolved, err := filepath.EvalSymlinks(link)
		if err != nil {
			continue
		}
		if resolved == want {
			aliases = append(aliases, link)
		}
	}
	sort.Strings(aliases)
	return aliases
}

// getPortDescription provides human-readable descriptions for different port types
func getPortDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}
