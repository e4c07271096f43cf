// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// MPU9250 register addresses (RM-MPU-9250A-00).
const (
	regSmplrtDiv    = 0x19
	regConfig       = 0x1A
	regGyroConfig   = 0x1B
	regAccelConfig  = 0x1C
	regAccelConfig2 = 0x1D
	regI2CMstCtrl   = 0x24
	regI2CSlv0Addr  = 0x25
	regI2CSlv0Reg   = 0x26
	regI2CSlv0Ctrl  = 0x27
	regIntStatus    = 0x3A
	regAccelXoutH   = 0x3B
	regTempOutH     = 0x41
	regGyroXoutH    = 0x43
	regExtSensData0 = 0x49
	regI2CSlv0DO    = 0x63
	regUserCtrl     = 0x6A
	regPwrMgmt1     = 0x6B
	regWhoAmI       = 0x75

	whoAmIMPU9250 = 0x71
	spiReadFlag   = 0x80

	// On-package AK8963 magnetometer, reached through the I2C master.
	ak8963Addr      = 0x0C
	ak8963RegWIA    = 0x00
	ak8963RegST1    = 0x02
	ak8963RegHXL    = 0x03
	ak8963RegCNTL1  = 0x0A
	ak8963DeviceID  = 0x48
	ak8963Mode100Hz = 0x16 // 16-bit, continuous measurement mode 2
)

// Full-scale ranges fixed at init: ±8g accel, ±2000 deg/s gyro.
const (
	accelRangeBits = 0x10 // ACCEL_FS_SEL = 2
	gyroRangeBits  = 0x18 // GYRO_FS_SEL = 3

	accelScale = 9.80665 * 8.0 / 32768.0 // m/s² per LSB
	gyroScale  = 2000.0 / 32768.0        // deg/s per LSB
)

// MPU9250 owns one physical chip over SPI and exposes its accelerometer and
// gyro as FIFO sources and its AK8963 as a MagSource. The chip is driven at
// register level: the rig wires chip select to a plain GPIO, so the SPI port
// runs in NoCS mode and the driver toggles the pin around each transfer.
//
// The sample registers are surfaced rather than the hardware FIFO, so each
// data-ready yields exactly one sample per consumer; the data-ready latch is
// shared between the accel and gyro views so one drain cannot starve the
// other.
type MPU9250 struct {
	port spi.PortCloser
	conn spi.Conn
	cs   gpio.PinOut

	magOK bool

	mu         sync.Mutex
	accelReady bool
	gyroReady  bool
}

var (
	device     *MPU9250
	deviceOnce sync.Once
)

// Open initializes the IMU once and returns the shared instance. Subsequent
// calls return the first result regardless of arguments.
func Open(spiDev, csPin string) (*MPU9250, error) {
	var err error
	deviceOnce.Do(func() {
		device, err = open(spiDev, csPin)
	})
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("IMU failed to initialize earlier")
	}
	return device, nil
}

func open(spiDev, csPin string) (*MPU9250, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU CS pin %q not found", csPin)
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("IMU CS pin setup: %w", err)
	}

	port, err := spireg.Open(spiDev)
	if err != nil {
		return nil, fmt.Errorf("IMU SPI open (%s): %w", spiDev, err)
	}

	conn, err := port.Connect(physic.MegaHertz, spi.Mode3|spi.NoCS, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("IMU SPI connect: %w", err)
	}

	d := &MPU9250{port: port, conn: conn, cs: cs}

	if err := d.init(); err != nil {
		port.Close()
		return nil, fmt.Errorf("IMU initialization: %w", err)
	}

	if err := d.initMag(); err != nil {
		// The estimator does not consume mag data; keep flying without it.
		log.Printf("IMU: magnetometer init failed (continuing without mag): %v", err)
	} else {
		d.magOK = true
	}

	return d, nil
}

// init resets the chip and configures ranges, filters, and the I2C master.
func (d *MPU9250) init() error {
	// Reset, then wake with the gyro-derived clock.
	if err := d.writeReg(regPwrMgmt1, 0x80); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := d.writeReg(regPwrMgmt1, 0x01); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)

	id, err := d.readReg(regWhoAmI)
	if err != nil {
		return err
	}
	if id != whoAmIMPU9250 {
		return fmt.Errorf("WHO_AM_I 0x%02X, want 0x%02X", id, whoAmIMPU9250)
	}

	// 1 kHz internal rate with 184 Hz DLPF on both sensors, divided down
	// to 500 Hz output to match the acquisition tick.
	steps := []struct{ reg, val byte }{
		{regConfig, 0x01},
		{regSmplrtDiv, 0x01},
		{regGyroConfig, gyroRangeBits},
		{regAccelConfig, accelRangeBits},
		{regAccelConfig2, 0x01},
		{regUserCtrl, 0x20},   // enable the on-chip I2C master
		{regI2CMstCtrl, 0x0D}, // 400 kHz
	}
	for _, s := range steps {
		if err := d.writeReg(s.reg, s.val); err != nil {
			return fmt.Errorf("write register 0x%02X: %w", s.reg, err)
		}
	}
	return nil
}

// tx runs one full-duplex transfer with the GPIO chip select held low.
func (d *MPU9250) tx(w, r []byte) error {
	if err := d.cs.Out(gpio.Low); err != nil {
		return err
	}
	err := d.conn.Tx(w, r)
	if csErr := d.cs.Out(gpio.High); err == nil {
		err = csErr
	}
	return err
}

func (d *MPU9250) readReg(reg byte) (byte, error) {
	w := []byte{reg | spiReadFlag, 0}
	r := make([]byte, 2)
	if err := d.tx(w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

// readBurst reads len(buf) consecutive registers starting at reg.
func (d *MPU9250) readBurst(reg byte, buf []byte) error {
	w := make([]byte, len(buf)+1)
	w[0] = reg | spiReadFlag
	r := make([]byte, len(buf)+1)
	if err := d.tx(w, r); err != nil {
		return err
	}
	copy(buf, r[1:])
	return nil
}

func (d *MPU9250) writeReg(reg, value byte) error {
	return d.tx([]byte{reg, value}, nil)
}

// initMag puts the AK8963 in 16-bit 100 Hz continuous mode through the I2C
// master passthrough and verifies its device ID.
func (d *MPU9250) initMag() error {
	if err := d.writeAK8963(ak8963RegCNTL1, ak8963Mode100Hz); err != nil {
		return err
	}
	id, err := d.readAK8963(ak8963RegWIA)
	if err != nil {
		return err
	}
	if id != ak8963DeviceID {
		return fmt.Errorf("AK8963 device ID 0x%02X, want 0x%02X", id, ak8963DeviceID)
	}
	return nil
}

func (d *MPU9250) readAK8963(regAddr byte) (byte, error) {
	var buf [1]byte
	if err := d.readAK8963Burst(regAddr, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (d *MPU9250) readAK8963Burst(regAddr byte, buf []byte) error {
	if err := d.writeReg(regI2CSlv0Addr, ak8963Addr|spiReadFlag); err != nil {
		return fmt.Errorf("set AK8963 slave address: %w", err)
	}
	if err := d.writeReg(regI2CSlv0Reg, regAddr); err != nil {
		return fmt.Errorf("set AK8963 register address: %w", err)
	}
	if err := d.writeReg(regI2CSlv0Ctrl, 0x80|byte(len(buf))); err != nil {
		return fmt.Errorf("enable AK8963 read: %w", err)
	}
	// Wait for the I2C master to shuttle the bytes into EXT_SENS_DATA.
	time.Sleep(2 * time.Millisecond)
	if err := d.readBurst(regExtSensData0, buf); err != nil {
		return fmt.Errorf("read EXT_SENS_DATA: %w", err)
	}
	return nil
}

func (d *MPU9250) writeAK8963(regAddr, value byte) error {
	if err := d.writeReg(regI2CSlv0Addr, ak8963Addr); err != nil {
		return fmt.Errorf("set AK8963 slave address: %w", err)
	}
	if err := d.writeReg(regI2CSlv0Reg, regAddr); err != nil {
		return fmt.Errorf("set AK8963 register address: %w", err)
	}
	if err := d.writeReg(regI2CSlv0DO, value); err != nil {
		return fmt.Errorf("set AK8963 write data: %w", err)
	}
	if err := d.writeReg(regI2CSlv0Ctrl, 0x81); err != nil {
		return fmt.Errorf("enable AK8963 write: %w", err)
	}
	time.Sleep(2 * time.Millisecond)
	return nil
}

// poll latches data-ready for both sample consumers. INT_STATUS clears on
// read, so a single read has to arm the accel and gyro views together.
func (d *MPU9250) poll() error {
	status, err := d.readReg(regIntStatus)
	if err != nil {
		return err
	}
	if status&0x01 != 0 {
		d.accelReady = true
		d.gyroReady = true
	}
	return nil
}

// selfTest is the liveness check used by both inertial views: the chip must
// answer with its WHO_AM_I signature.
func (d *MPU9250) selfTest() error {
	id, err := d.readReg(regWhoAmI)
	if err != nil {
		return err
	}
	if id != whoAmIMPU9250 {
		return fmt.Errorf("WHO_AM_I 0x%02X, want 0x%02X", id, whoAmIMPU9250)
	}
	return nil
}

func (d *MPU9250) temperature() (int16, error) {
	var buf [2]byte
	if err := d.readBurst(regTempOutH, buf[:]); err != nil {
		return 0, err
	}
	return int16(uint16(buf[0])<<8 | uint16(buf[1])), nil
}

// readVector reads one 3-axis big-endian sample block.
func (d *MPU9250) readVector(reg byte) (x, y, z int16, err error) {
	var buf [6]byte
	if err := d.readBurst(reg, buf[:]); err != nil {
		return 0, 0, 0, err
	}
	x = int16(uint16(buf[0])<<8 | uint16(buf[1]))
	y = int16(uint16(buf[2])<<8 | uint16(buf[3]))
	z = int16(uint16(buf[4])<<8 | uint16(buf[5]))
	return x, y, z, nil
}

// Accel returns the accelerometer view of the chip.
func (d *MPU9250) Accel() FIFOSource { return &mpuAccel{d} }

// Gyro returns the gyro view of the chip.
func (d *MPU9250) Gyro() FIFOSource { return &mpuGyro{d} }

// Mag returns the AK8963 view of the chip, or nil if the magnetometer did
// not come up at init.
func (d *MPU9250) Mag() MagSource {
	if !d.magOK {
		return nil
	}
	return &mpuMag{d}
}

type mpuAccel struct{ d *MPU9250 }

func (a *mpuAccel) SelfTest() error {
	if err := a.d.selfTest(); err != nil {
		return fmt.Errorf("accel self-test: %w", err)
	}
	return nil
}

func (a *mpuAccel) ReadFIFO(s *RawSample) error {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	if !a.d.accelReady {
		if err := a.d.poll(); err != nil {
			return fmt.Errorf("accel status: %w", err)
		}
		if !a.d.accelReady {
			return ErrNoData
		}
	}
	a.d.accelReady = false

	x, y, z, err := a.d.readVector(regAccelXoutH)
	if err != nil {
		return fmt.Errorf("accel read: %w", err)
	}
	temp, err := a.d.temperature()
	if err != nil {
		return fmt.Errorf("accel temperature: %w", err)
	}
	*s = RawSample{X: x, Y: y, Z: z, Temperature: temp}
	return nil
}

func (a *mpuAccel) Scale() float64 { return accelScale }

type mpuGyro struct{ d *MPU9250 }

func (g *mpuGyro) SelfTest() error {
	if err := g.d.selfTest(); err != nil {
		return fmt.Errorf("gyro self-test: %w", err)
	}
	return nil
}

func (g *mpuGyro) ReadFIFO(s *RawSample) error {
	g.d.mu.Lock()
	defer g.d.mu.Unlock()
	if !g.d.gyroReady {
		if err := g.d.poll(); err != nil {
			return fmt.Errorf("gyro status: %w", err)
		}
		if !g.d.gyroReady {
			return ErrNoData
		}
	}
	g.d.gyroReady = false

	x, y, z, err := g.d.readVector(regGyroXoutH)
	if err != nil {
		return fmt.Errorf("gyro read: %w", err)
	}
	temp, err := g.d.temperature()
	if err != nil {
		return fmt.Errorf("gyro temperature: %w", err)
	}
	*s = RawSample{X: x, Y: y, Z: z, Temperature: temp}
	return nil
}

func (g *mpuGyro) Scale() float64 { return gyroScale }

type mpuMag struct{ d *MPU9250 }

func (m *mpuMag) SelfTest() error {
	id, err := m.d.readAK8963(ak8963RegWIA)
	if err != nil {
		return fmt.Errorf("mag self-test: %w", err)
	}
	if id != ak8963DeviceID {
		return fmt.Errorf("mag self-test: device ID 0x%02X, want 0x%02X", id, ak8963DeviceID)
	}
	return nil
}

func (m *mpuMag) NewDataAvailable() bool {
	st1, err := m.d.readAK8963(ak8963RegST1)
	if err != nil {
		return false
	}
	return st1&0x01 != 0
}

func (m *mpuMag) Read(values *[3]int16) error {
	// HXL..HZH plus ST2; reading through ST2 ends the measurement on the
	// AK8963. Measurement data is little-endian.
	var buf [7]byte
	if err := m.d.readAK8963Burst(ak8963RegHXL, buf[:]); err != nil {
		return err
	}
	values[0] = int16(uint16(buf[1])<<8 | uint16(buf[0]))
	values[1] = int16(uint16(buf[3])<<8 | uint16(buf[2]))
	values[2] = int16(uint16(buf[5])<<8 | uint16(buf[4]))
	return nil
}
