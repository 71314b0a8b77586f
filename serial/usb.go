package serial

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	sysClassTTY = "/sys/class/tty"

	// Time a reset device needs before its tty node is back
	reenumerateDelay = 2 * time.Second
)

// HasUSBInfo reports whether a USB descriptor was found for the port.
func (p *PortInfo) HasUSBInfo() bool {
	return p.VendorID != "" && p.ProductID != ""
}

// USBID returns the descriptor ids as vid:pid, or "" for on-board ports.
func (p *PortInfo) USBID() string {
	if !p.HasUSBInfo() {
		return ""
	}
	return strings.ToLower(p.VendorID + ":" + p.ProductID)
}

// enrichUSBInfo fills in the USB descriptor fields from sysfs.
// Missing files leave the fields empty.
func enrichUSBInfo(info *PortInfo) {
	devicePath := filepath.Join(sysClassTTY, info.Name, "device")
	resolved, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		return
	}

	// ttyUSB nodes sit one level below the interface, ttyACM nodes are the
	// interface itself
	iface := resolved
	if strings.HasPrefix(filepath.Base(resolved), "ttyUSB") {
		iface = filepath.Dir(resolved)
	}
	usbDevice := filepath.Dir(iface)

	info.VendorID = readSysfsFile(filepath.Join(usbDevice, "idVendor"))
	info.ProductID = readSysfsFile(filepath.Join(usbDevice, "idProduct"))
	info.SerialNumber = readSysfsFile(filepath.Join(usbDevice, "serial"))
	info.Manufacturer = readSysfsFile(filepath.Join(usbDevice, "manufacturer"))
	info.Product = readSysfsFile(filepath.Join(usbDevice, "product"))
	info.BusNumber = readSysfsFile(filepath.Join(usbDevice, "busnum"))
	info.DeviceNumber = readSysfsFile(filepath.Join(usbDevice, "devnum"))
}

func readSysfsFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// usbPath formats bus and device numbers the way usbreset expects (BBB/DDD)
func usbPath(bus, device string) string {
	pad := func(s string) string {
		for len(s) < 3 {
			s = "0" + s
		}
		return s
	}
	return pad(bus) + "/" + pad(device)
}

// ResetUSBDevice performs a USB-level reset of the device behind portPath.
// This recovers a cube whose USB bridge stopped answering without a power
// cycle. The port path may change once the device re-enumerates.
//
// It needs the usbreset utility (usbutils) and usually root.
func ResetUSBDevice(portPath string) error {
	info, err := GetPortInfo(portPath)
	if err != nil {
		return fmt.Errorf("failed to get port info: %w", err)
	}
	if info.BusNumber == "" || info.DeviceNumber == "" {
		return ErrUSBInfoNotAvailable
	}
	if !IsUSBResetAvailable() {
		return ErrUSBResetNotAvailable
	}

	cmd := exec.Command("usbreset", usbPath(info.BusNumber, info.DeviceNumber))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("usbreset failed: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	time.Sleep(reenumerateDelay)
	return nil
}

// FindBySerial returns the port whose USB serial number matches.
func FindBySerial(serialNumber string) (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	for _, portPath := range ports {
		info, err := GetPortInfo(portPath)
		if err != nil {
			continue
		}
		if info.SerialNumber == serialNumber {
			return portPath, nil
		}
	}
	return "", fmt.Errorf("%w: serial %s", ErrDeviceNotFound, serialNumber)
}

// IsUSBResetAvailable checks if usbreset utility is available in PATH
func IsUSBResetAvailable() bool {
	_, err := exec.LookPath("usbreset")
	return err == nil
}
