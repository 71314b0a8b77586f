// Package kpz drives Thorlabs KPZ101 piezo controller cubes over their USB
// virtual serial port.
//
// A Controller keeps one link session per physical cube. Cubes are
// identified by the endpoint they are attached to plus their node address;
// callers refer to them through opaque handles.
//
// # Basic Usage
//
//	c, err := kpz.New(kpz.WithOpener(serial.NewOpener()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.CloseAll()
//
//	h, err := c.Open("/dev/ttyUSB0", 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = c.EnableOutput(ctx, h, true)
//	_ = c.SetVoltage(ctx, h, 12.5)
//	st, err := c.QueryStatus(ctx, h)
//
// # Errors
//
// Invalid arguments fail with ErrOutOfRange before anything is written to
// the cube. Commands that get no answer fail with ErrCommandTimeout after the
// configured retries; I/O failures surface as *TransportError and are never
// retried. An error report from the cube is returned as
// *DeviceRejectedError.
//
// # Status pushes
//
// After StartUpdates the cube sends status on its own. Those frames, and any
// other frame that does not answer a command, update the cached status and
// are handed to the Observer set with WithObserver.
package kpz
