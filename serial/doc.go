// Package serial provides termios-based access to the USB virtual serial
// ports the Thorlabs APT controllers present on Linux.
//
// Ports are opened with the line settings the cubes expect and exposed to
// the protocol core through the transport.Transport interface.
//
// # Basic Usage
//
// Open a port with the default APT configuration (115200 8N1, RTS/CTS):
//
//	port, err := serial.Open("/dev/ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	n, err := port.Write(frame)
//	buffer := make([]byte, 256)
//	n, err = port.ReadTimeout(buffer, 100*time.Millisecond)
//
// # Configuration Options
//
// Use functional options for custom configuration:
//
//	port, err := serial.Open("/dev/ttyUSB0",
//	    serial.WithBaudRate(115200),
//	    serial.WithFlowControl(serial.FlowControlRTSCTS),
//	    serial.WithReadTimeout(200*time.Millisecond),
//	    serial.WithExclusive(true),
//	)
//
// # Transports
//
// An Opener opens endpoints for a kpz.Controller and runs the line
// initialisation the cubes need after power-up: dwell, purge both
// directions, dwell, then assert RTS.
//
//	c, err := kpz.New(kpz.WithOpener(serial.NewOpener()))
//
// Read on a Transport returns 0, nil when nothing arrived within the timeout.
// Once the port is closed or the device is unplugged it returns
// transport.ErrClosed.
//
// # Port Discovery
//
// List available serial ports with their USB descriptor:
//
//	ports, err := serial.ListPorts()
//	for _, portPath := range ports {
//	    info, _ := serial.GetPortInfo(portPath)
//	    if info.HasUSBInfo() {
//	        fmt.Printf("%s: %s serial %s\n", info.Path, info.USBID(), info.SerialNumber)
//	    }
//	}
//
// The /dev/serial/by-id links of a port are reported as Aliases and make
// stable endpoint names.
//
// # USB Device Management
//
// A cube whose USB bridge stopped answering can be reset without a power
// cycle:
//
//	path, err := serial.FindBySerial("29250001")
//	err = serial.ResetUSBDevice(path)
//
// Requires the usbreset utility from usbutils and root permissions.
//
// # Error Handling
//
// Errors wrap the sentinels in errors.go; use errors.Is:
//
//	if errors.Is(err, serial.ErrDeviceInUse) {
//	    // another process holds the port
//	}
//
// # Default Configuration
//
//   - BaudRate: 115200
//   - DataBits: 8
//   - StopBits: 1
//   - Parity: None
//   - FlowControl: RTS/CTS
//   - ReadTimeout: 100ms
//   - Exclusive: true
//   - PurgeDwell: 50ms
//   - WriteTimeout: 1s
package serial
