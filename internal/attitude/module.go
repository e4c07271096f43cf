// Package attitude fuses gyro, accel, and mag readings into a continuously
// updated orientation estimate. A sensor acquisition loop drains the
// hardware FIFOs at a fixed rate and feeds bounded queues; an estimator loop
// consumes them through a complementary filter and publishes the attitude on
// the telemetry bus. Both loops stroke watchdog flags and report health
// through alarms; neither ever blocks the rest of the system.
package attitude

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/attitude_computer/internal/quat"
	"github.com/relabs-tech/attitude_computer/internal/sensors"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

const (
	sensorQueueSize = 10
	defaultPeriod   = 2 * time.Millisecond
	queueTimeout    = 10 * time.Millisecond

	// Early-startup window during which the accel pulls hard on the
	// estimate to identify the gyro bias while the craft sits still.
	bootstrapAfter   = 1 * time.Second
	bootstrapUntil   = 7 * time.Second
	bootstrapKp      = 1.0
	bootstrapKi      = 0.9
	bootstrapYawBias = 0.23
)

// tuning is an immutable snapshot of the settings-derived state. The
// settings callback swaps the whole snapshot; the loops read whichever
// version is current and tolerate a one-tick lag.
type tuning struct {
	accelKp     float64
	accelKi     float64
	yawBiasRate float64
	// gyroGain is carried for settings compatibility but not applied;
	// the driver's scale factor is the effective gain.
	gyroGain float64

	zeroDuringArming bool
	biasCorrectGyro  bool

	accelBias [3]int16

	r      [3][3]float64
	rotate bool
}

// filterGains is the subset the sensor loop may override during bootstrap
// and arming.
type filterGains struct {
	accelKp     float64
	accelKi     float64
	yawBiasRate float64
}

// atomicFloat64 is a word-sized float cell shared between the loops.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (f *atomicFloat64) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat64) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat64) Add(delta float64) {
	f.Store(f.Load() + delta)
}

// Config wires the module to its collaborators.
type Config struct {
	Bus      *telemetry.Bus
	Watchdog *telemetry.Watchdog

	Accel sensors.FIFOSource
	Gyro  sensors.FIFOSource
	Mag   sensors.MagSource

	// Period is the sensor loop interval; zero means the 2 ms default.
	Period time.Duration
}

// Module is the attitude estimator.
//
// Ownership: the sensor loop owns the raw accumulators and the z bias cell;
// the estimator loop owns the quaternion and the x/y bias cells; the
// settings callback owns the tuning snapshot. Everything crossing a loop
// boundary is either an immutable snapshot or a word-sized atomic.
type Module struct {
	bus *telemetry.Bus
	wdg *telemetry.Watchdog

	accel sensors.FIFOSource
	gyro  sensors.FIFOSource
	mag   sensors.MagSource

	period time.Duration

	gyroQueue  chan telemetry.Gyros
	accelQueue chan telemetry.Accels
	magQueue   chan telemetry.Magnetometer

	settings atomic.Pointer[tuning]
	gains    atomic.Pointer[filterGains]

	biasX atomicFloat64 // written by the estimator loop
	biasY atomicFloat64 // written by the estimator loop
	biasZ atomicFloat64 // written by the sensor loop

	// estimator-loop state
	q        [4]float64
	lastStep time.Time

	start time.Time
	now   func() time.Time
}

// New builds a stopped module. Start launches the loops.
func New(cfg Config) *Module {
	period := cfg.Period
	if period == 0 {
		period = defaultPeriod
	}
	m := &Module{
		bus:        cfg.Bus,
		wdg:        cfg.Watchdog,
		accel:      cfg.Accel,
		gyro:       cfg.Gyro,
		mag:        cfg.Mag,
		period:     period,
		gyroQueue:  make(chan telemetry.Gyros, sensorQueueSize),
		accelQueue: make(chan telemetry.Accels, sensorQueueSize),
		magQueue:   make(chan telemetry.Magnetometer, sensorQueueSize),
		q:          [4]float64{1, 0, 0, 0},
		now:        time.Now,
	}
	m.settings.Store(&tuning{r: quat.Identity()})
	m.gains.Store(&filterGains{})
	return m
}

// Start registers the watchdog flags, connects the settings callback, and
// launches the two loops. The loops run for the lifetime of the process.
func (m *Module) Start() {
	m.wdg.Register(telemetry.WDGSensors)
	m.wdg.Register(telemetry.WDGAttitude)

	m.bus.ConnectAttitudeSettings(m.settingsUpdated)

	m.start = m.now()

	go m.runSensors()
	go m.runAttitude()
}
