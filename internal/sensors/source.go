// Package sensors defines the contracts between the attitude module and the
// inertial hardware, and provides the MPU9250 adapter plus a simulated
// source for bench runs and tests.
package sensors

import "errors"

// ErrNoData is returned by ReadFIFO when the sensor has no new sample.
var ErrNoData = errors.New("no data available")

// RawSample is one FIFO entry in raw ADC counts, sensor axis order.
type RawSample struct {
	X           int16
	Y           int16
	Z           int16
	Temperature int16
}

// FIFOSource is a gyro or accelerometer with a drainable sample FIFO.
//
// ReadFIFO pops the oldest sample into s, returning ErrNoData when the FIFO
// is empty this instant and a real error when the hardware fails. Scale is
// the factor converting raw counts to engineering units (m/s² for accels,
// deg/s for gyros).
type FIFOSource interface {
	SelfTest() error
	ReadFIFO(s *RawSample) error
	Scale() float64
}

// MagSource is a magnetometer polled for fresh data.
type MagSource interface {
	SelfTest() error
	NewDataAvailable() bool
	Read(values *[3]int16) error
}
