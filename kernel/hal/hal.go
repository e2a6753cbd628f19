// Package hal probes the registered device drivers and wires the detected
// devices to the kernel output sinks.
package hal

import (
	"bytes"
	"sort"

	"ringzero/device"
	"ringzero/device/keyboard"
	"ringzero/device/serial"
	"ringzero/device/video/console"
	"ringzero/kernel/kfmt"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	activeConsole  console.Device
	activeLog      *serial.Port
	activeKeyboard *keyboard.Keyboard

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	setOutputSinkFn = kfmt.SetOutputSink
	setLogSinkFn    = kfmt.SetLogSink
	driverListFn    = device.DriverList
)

// ActiveConsole returns the console that receives kfmt.Printf output or nil
// if no console was detected.
func ActiveConsole() console.Device {
	return devices.activeConsole
}

// ActiveLog returns the serial port that receives kfmt.Logf output or nil
// if no port was detected.
func ActiveLog() *serial.Port {
	return devices.activeLog
}

// ActiveKeyboard returns the detected keyboard or nil.
func ActiveKeyboard() *keyboard.Keyboard {
	return devices.activeKeyboard
}

// ActiveDrivers returns the list of successfully initialized drivers.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers.
func DetectHardware() {
	// Get driver list and sort by detection priority. Drivers sharing a
	// priority are probed in registration order.
	drivers := driverListFn()
	sort.Stable(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.LogWriter}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		onDriverInit(drv)
		devices.activeDrivers = append(devices.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first device of each kind wins.
func onDriverInit(drv device.Driver) {
	switch drvImpl := drv.(type) {
	case *serial.Port:
		if devices.activeLog != nil {
			return
		}
		devices.activeLog = drvImpl
		setLogSinkFn(drvImpl)
	case console.Device:
		if devices.activeConsole != nil {
			return
		}
		devices.activeConsole = drvImpl
		setOutputSinkFn(drvImpl)
	case *keyboard.Keyboard:
		if devices.activeKeyboard != nil {
			return
		}
		devices.activeKeyboard = drvImpl
	}
}
