package attitude

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/attitude_computer/internal/quat"
	"github.com/relabs-tech/attitude_computer/internal/sensors"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

// fakeClock drives the module's time source in filter step tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestModule(t *testing.T) (*Module, *fakeClock) {
	t.Helper()
	m := New(Config{
		Bus:      telemetry.NewBus(),
		Watchdog: telemetry.NewWatchdog(),
		Accel:    sensors.NewSimFIFO(1),
		Gyro:     sensors.NewSimFIFO(1),
		Mag:      sensors.NewSimMag(),
	})
	clock := newFakeClock()
	m.now = clock.now
	m.start = clock.now()
	return m, clock
}

// step feeds one paired sample and runs a filter step with a 2 ms interval.
func step(t *testing.T, m *Module, clock *fakeClock, gyro [3]float64, accel [3]float64) {
	t.Helper()
	m.gyroQueue <- telemetry.Gyros{X: gyro[0], Y: gyro[1], Z: gyro[2]}
	m.accelQueue <- telemetry.Accels{X: accel[0], Y: accel[1], Z: accel[2]}
	clock.advance(2 * time.Millisecond)
	require.NoError(t, m.updateAttitude())
}

const gravity = 9.81

func TestGravityAlignment(t *testing.T) {
	m, clock := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{AccelKp: 1, AccelKi: 0.9})

	// Start well away from level.
	m.q = quat.FromRPY([3]float64{20, -30, 0})

	for i := 0; i < 2500; i++ { // 5 s at 500 Hz
		step(t, m, clock, [3]float64{0, 0, 0}, [3]float64{0, 0, -gravity})

		require.InDelta(t, 1, quat.Norm(m.q), 1e-4)
		require.GreaterOrEqual(t, m.q[0], 0.0)
	}

	att := m.bus.Attitude()
	require.InDelta(t, 0, att.Roll, 0.5)
	require.InDelta(t, 0, att.Pitch, 0.5)
}

func TestRateIntegration(t *testing.T) {
	// With the accel correction off, a constant roll rate integrates to
	// rate × time.
	m, clock := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{AccelKp: 0, AccelKi: 0})

	for i := 0; i < 500; i++ { // 1 s
		step(t, m, clock, [3]float64{90, 0, 0}, [3]float64{0, 0, -gravity})
	}

	att := m.bus.Attitude()
	require.InDelta(t, 90, att.Roll, 2)
	require.InDelta(t, 0, att.Pitch, 0.1)
	require.InDelta(t, 1, quat.Norm(m.q), 1e-4)
}

func TestStationaryBiasBounded(t *testing.T) {
	m, clock := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{AccelKp: 1, AccelKi: 0.9})
	m.q = quat.FromRPY([3]float64{3, -2, 0})

	var maxBias float64
	for i := 0; i < 30000; i++ { // 60 s of stillness
		step(t, m, clock, [3]float64{0, 0, 0}, [3]float64{0, 0, -gravity})
		b := math.Max(math.Abs(m.biasX.Load()), math.Abs(m.biasY.Load()))
		maxBias = math.Max(maxBias, b)
	}

	// The integral settles once the attitude error is gone.
	require.False(t, math.IsNaN(m.biasX.Load()))
	require.Less(t, maxBias, 100.0)

	// And the last 10 s should not move it measurably.
	before := [2]float64{m.biasX.Load(), m.biasY.Load()}
	for i := 0; i < 5000; i++ {
		step(t, m, clock, [3]float64{0, 0, 0}, [3]float64{0, 0, -gravity})
	}
	require.InDelta(t, before[0], m.biasX.Load(), 1e-3)
	require.InDelta(t, before[1], m.biasY.Load(), 1e-3)
}

func TestZeroAccelSkipsCorrection(t *testing.T) {
	m, clock := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{AccelKp: 1, AccelKi: 0.9})

	q0 := m.q
	step(t, m, clock, [3]float64{0, 0, 0}, [3]float64{0, 0, 0})

	// Gyro-only step with zero rates: the attitude must not move and the
	// bias must not absorb a divide-by-zero.
	require.Equal(t, q0, m.q)
	require.Zero(t, m.biasX.Load())
	require.Zero(t, m.biasY.Load())
	for _, c := range m.q {
		require.False(t, math.IsNaN(c))
	}
}

func TestDegenerateQuaternionResets(t *testing.T) {
	m, clock := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{})

	nan := math.NaN()
	m.q = [4]float64{nan, nan, nan, nan}
	step(t, m, clock, [3]float64{0, 0, 0}, [3]float64{0, 0, -gravity})

	require.Equal(t, [4]float64{1, 0, 0, 0}, m.q)

	att := m.bus.Attitude()
	require.Equal(t, 1.0, att.Q1)
	require.Zero(t, att.Roll)
	require.Zero(t, att.Pitch)
	require.Zero(t, att.Yaw)
}

func TestHemisphereCanonical(t *testing.T) {
	m, clock := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{})

	// Spin until well past 180° of roll; q0 crosses zero on the way.
	for i := 0; i < 1200; i++ { // 2.4 s at 180 deg/s ⇒ 432°
		step(t, m, clock, [3]float64{180, 0, 0}, [3]float64{0, 0, 0})
		require.GreaterOrEqual(t, m.q[0], 0.0)
		require.InDelta(t, 1, quat.Norm(m.q), 1e-4)
	}
}

func TestPublishedAnglesInRange(t *testing.T) {
	m, clock := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{})

	for i := 0; i < 2000; i++ {
		step(t, m, clock, [3]float64{170, 95, -240}, [3]float64{0, 0, 0})
		att := m.bus.Attitude()
		require.Greater(t, att.Roll, -180.0)
		require.LessOrEqual(t, att.Roll, 180.0)
		require.GreaterOrEqual(t, att.Pitch, -90.0)
		require.LessOrEqual(t, att.Pitch, 90.0)
		require.Greater(t, att.Yaw, -180.0)
		require.LessOrEqual(t, att.Yaw, 180.0)
	}
}

func TestQueueTimeoutRaisesError(t *testing.T) {
	m, _ := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{})

	err := m.updateAttitude()
	require.ErrorIs(t, err, errQueueTimeout)
	require.Equal(t, telemetry.SeverityError, m.bus.Alarms().Attitude)
}

func TestQueueTimeoutRecovers(t *testing.T) {
	m, clock := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{})

	require.Error(t, m.updateAttitude())
	require.Equal(t, telemetry.SeverityError, m.bus.Alarms().Attitude)

	step(t, m, clock, [3]float64{0, 0, 0}, [3]float64{0, 0, -gravity})
	require.Equal(t, telemetry.SeverityOK, m.bus.Alarms().Attitude)
}

func TestGyroTimeoutWithAccelOnly(t *testing.T) {
	// An accel sample without a gyro partner still times out.
	m, _ := newTestModule(t)
	m.settingsUpdated(telemetry.AttitudeSettings{})

	m.accelQueue <- telemetry.Accels{Z: -gravity}
	err := m.updateAttitude()
	require.ErrorIs(t, err, errQueueTimeout)
}
