package attitude

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/attitude_computer/internal/sensors"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

// feeder pushes raw samples into the sim FIFOs at sensor rate, simulating a
// craft holding a constant attitude.
type feeder struct {
	accel *sensors.SimFIFO
	gyro  *sensors.SimFIFO
	stop  chan struct{}
	done  chan struct{}
}

// startFeeder produces the raw accel pattern whose remapped, scaled output
// equals want (m/s² with scale 0.001), plus a zero gyro.
func startFeeder(accel, gyro *sensors.SimFIFO, want [3]float64) *feeder {
	f := &feeder{accel: accel, gyro: gyro, stop: make(chan struct{}), done: make(chan struct{})}
	raw := sensors.RawSample{
		X: int16(want[1] / 0.001),
		Y: int16(want[0] / 0.001),
		Z: int16(-want[2] / 0.001),
	}
	go func() {
		defer close(f.done)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-f.stop:
				return
			case <-ticker.C:
				f.accel.Queue(raw)
				f.gyro.Queue(sensors.RawSample{})
			}
		}
	}()
	return f
}

func (f *feeder) halt() {
	select {
	case <-f.done:
	default:
		close(f.stop)
		<-f.done
	}
}

func TestModuleConvergesOnConstantTilt(t *testing.T) {
	bus := telemetry.NewBus()
	wdg := telemetry.NewWatchdog()
	accel := sensors.NewSimFIFO(0.001)
	gyro := sensors.NewSimFIFO(0.001)

	bus.SetAttitudeSettings(telemetry.AttitudeSettings{AccelKp: 1, AccelKi: 0.9})

	m := New(Config{Bus: bus, Watchdog: wdg, Accel: accel, Gyro: gyro})

	// Gravity as seen from a craft rolled 20° right.
	const roll = 20.0
	g := [3]float64{
		0,
		-gravity * math.Sin(roll*math.Pi/180),
		-gravity * math.Cos(roll*math.Pi/180),
	}
	f := startFeeder(accel, gyro, g)
	defer f.halt()

	m.Start()

	require.Eventually(t, func() bool {
		att := bus.Attitude()
		return math.Abs(att.Roll-roll) < 0.5 && math.Abs(att.Pitch) < 0.5
	}, 5*time.Second, 50*time.Millisecond, "estimate never aligned with gravity")

	att := bus.Attitude()
	norm := math.Sqrt(att.Q1*att.Q1 + att.Q2*att.Q2 + att.Q3*att.Q3 + att.Q4*att.Q4)
	require.InDelta(t, 1, norm, 1e-4)
	require.GreaterOrEqual(t, att.Q1, 0.0)

	// Both loops keep proving liveness.
	require.False(t, wdg.Expired(telemetry.WDGSensors, 200*time.Millisecond))
	require.False(t, wdg.Expired(telemetry.WDGAttitude, 200*time.Millisecond))
}

func TestModuleStarvationAndRecovery(t *testing.T) {
	bus := telemetry.NewBus()
	wdg := telemetry.NewWatchdog()
	accel := sensors.NewSimFIFO(0.001)
	gyro := sensors.NewSimFIFO(0.001)

	bus.SetAttitudeSettings(telemetry.AttitudeSettings{AccelKp: 1, AccelKi: 0.9})

	m := New(Config{Bus: bus, Watchdog: wdg, Accel: accel, Gyro: gyro})

	f := startFeeder(accel, gyro, [3]float64{0, 0, -gravity})
	m.Start()

	require.Eventually(t, func() bool {
		return bus.Alarms().Attitude == telemetry.SeverityOK && bus.Attitude().Q1 > 0.9
	}, 5*time.Second, 20*time.Millisecond)

	// Starve the pipeline: the attitude alarm must reach ERROR quickly.
	f.halt()
	require.Eventually(t, func() bool {
		return bus.Alarms().Attitude == telemetry.SeverityError
	}, time.Second, 5*time.Millisecond, "starvation not detected")

	// Resume feeding: the alarm clears on the next successful publish.
	f2 := startFeeder(accel, gyro, [3]float64{0, 0, -gravity})
	defer f2.halt()
	require.Eventually(t, func() bool {
		return bus.Alarms().Attitude == telemetry.SeverityOK
	}, time.Second, 5*time.Millisecond, "pipeline did not recover")
}

func TestModuleSelfTestFailureIsFatal(t *testing.T) {
	bus := telemetry.NewBus()
	wdg := telemetry.NewWatchdog()
	accel := sensors.NewSimFIFO(0.001)
	gyro := sensors.NewSimFIFO(0.001)
	gyro.FailSelfTest(errors.New("whoami mismatch"))

	m := New(Config{Bus: bus, Watchdog: wdg, Accel: accel, Gyro: gyro})

	f := startFeeder(accel, gyro, [3]float64{0, 0, -gravity})
	defer f.halt()

	m.Start()

	require.Eventually(t, func() bool {
		return bus.Alarms().Sensors == telemetry.SeverityCritical
	}, time.Second, 5*time.Millisecond)

	// The sensors task stays alive for the watchdog but attitude never
	// publishes.
	time.Sleep(100 * time.Millisecond)
	require.False(t, wdg.Expired(telemetry.WDGSensors, 200*time.Millisecond))
	require.Equal(t, telemetry.AttitudeActual{}, bus.Attitude())
}
