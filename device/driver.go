package device

import (
	"io"

	"ringzero/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the hal package.
type DetectOrder int8

// The supported detection orders.
const (
	// DetectOrderEarly drivers are probed first. Drivers that provide
	// the kernel log sink belong here.
	DetectOrderEarly DetectOrder = -128

	// DetectOrderBeforeConsole drivers are probed before the console.
	DetectOrderBeforeConsole DetectOrder = -64

	// DetectOrderConsole drivers provide the system console.
	DetectOrderConsole DetectOrder = 0

	// DetectOrderLast drivers are probed after all other drivers.
	DetectOrderLast DetectOrder = 127
)

// DriverInfo is used by device drivers to register themselves with the hal.
type DriverInfo struct {
	// Order specifies at which stage of the hardware detection the hal
	// should try to invoke the driver's probe function.
	Order DetectOrder

	// Probe is invoked by the hal to check for the presence of the
	// hardware handled by the driver.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var registeredDrivers DriverInfoList

// RegisterDriver adds the supplied driver info to the list of registered
// drivers. Drivers usually call it from an init() block.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
