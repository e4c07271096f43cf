package attitude

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relabs-tech/attitude_computer/internal/quat"
	"github.com/relabs-tech/attitude_computer/internal/sensors"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

// errNoSamples means a required sensor produced nothing this tick.
var errNoSamples = errors.New("no samples this tick")

// fifoSpinLimit bounds the wait for the first sample of a tick before the
// sensor is declared missing.
const fifoSpinLimit = 1000

// runSensors is the acquisition loop: self-test once, then drain, average,
// correct, and publish at the configured rate.
func (m *Module) runSensors() {
	m.bus.ClearAlarm(telemetry.AlarmSensors)

	if err := m.selfTest(); err != nil {
		log.Printf("attitude: sensor self-test failed: %v", err)
		m.bus.SetAlarm(telemetry.AlarmSensors, telemetry.SeverityCritical)
		// Keep proving liveness so the watchdog does not reboot the
		// whole controller; attitude simply never publishes.
		ticker := time.NewTicker(m.period)
		defer ticker.Stop()
		for range ticker.C {
			m.wdg.Stroke(telemetry.WDGSensors)
		}
	}

	initialized := false

	// The ticker fires on an absolute schedule, so a slow tick does not
	// push every following deadline back.
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for range ticker.C {
		m.updateGains(&initialized)

		if err := m.updateSensors(); err != nil {
			m.bus.SetAlarm(telemetry.AlarmAttitude, telemetry.SeverityError)
		} else {
			m.bus.ClearAlarm(telemetry.AlarmAttitude)
		}

		m.wdg.Stroke(telemetry.WDGSensors)
	}
}

func (m *Module) selfTest() error {
	if err := m.accel.SelfTest(); err != nil {
		return fmt.Errorf("accel: %w", err)
	}
	if err := m.gyro.SelfTest(); err != nil {
		return fmt.Errorf("gyro: %w", err)
	}
	if m.mag != nil {
		if err := m.mag.SelfTest(); err != nil {
			return fmt.Errorf("mag: %w", err)
		}
	}
	return nil
}

// updateGains drives the two-state machine behind the filter gains: a
// high-gain pull toward gravity during early startup and while arming with
// zeroing enabled, settings-driven gains otherwise. The reload happens once
// per transition out of the high-gain state.
func (m *Module) updateGains(initialized *bool) {
	uptime := m.now().Sub(m.start)
	status := m.bus.FlightStatus()
	s := m.settings.Load()

	switch {
	case uptime > bootstrapAfter && uptime < bootstrapUntil:
		// Use the accels to identify gyro bias while the craft is still
		// on the ground.
		m.gains.Store(&filterGains{accelKp: bootstrapKp, accelKi: bootstrapKi, yawBiasRate: bootstrapYawBias})
		*initialized = false
	case s.zeroDuringArming && status.Armed == telemetry.Arming:
		m.gains.Store(&filterGains{accelKp: bootstrapKp, accelKi: bootstrapKi, yawBiasRate: bootstrapYawBias})
		*initialized = false
	case !*initialized:
		m.gains.Store(&filterGains{accelKp: s.accelKp, accelKi: s.accelKi, yawBiasRate: s.yawBiasRate})
		*initialized = true
	}
}

// drainFIFO empties the source, accumulating into 32-bit sums, and returns
// the per-tick average with the sensor axes remapped onto the body frame:
// x ← raw y, y ← raw x, z ← −raw z.
func drainFIFO(src sensors.FIFOSource) (avg [3]float64, temp float64, err error) {
	var raw sensors.RawSample

	// Make sure we get at least one sample.
	spins := 0
	for {
		err = src.ReadFIFO(&raw)
		if err == nil {
			break
		}
		if !errors.Is(err, sensors.ErrNoData) {
			return avg, 0, err
		}
		spins++
		if spins >= fifoSpinLimit {
			return avg, 0, errNoSamples
		}
	}

	var sum [3]int32
	var tempSum int32
	count := 0
	for {
		sum[0] += int32(raw.X)
		sum[1] += int32(raw.Y)
		sum[2] += int32(raw.Z)
		tempSum += int32(raw.Temperature)
		count++

		err = src.ReadFIFO(&raw)
		if err != nil {
			if errors.Is(err, sensors.ErrNoData) {
				break
			}
			return avg, 0, err
		}
	}

	n := float64(count)
	avg = [3]float64{
		float64(sum[1]) / n,
		float64(sum[0]) / n,
		-float64(sum[2]) / n,
	}
	return avg, float64(tempSum) / n, nil
}

// updateSensors performs one acquisition tick.
func (m *Module) updateSensors() error {
	s := m.settings.Load()

	// Accels: average, bias, scale.
	avg, temp, err := drainFIFO(m.accel)
	if err != nil {
		return fmt.Errorf("accel: %w", err)
	}
	scale := m.accel.Scale()
	accelsData := telemetry.Accels{
		X:           (avg[0] - float64(s.accelBias[0])) * scale,
		Y:           (avg[1] - float64(s.accelBias[1])) * scale,
		Z:           (avg[2] - float64(s.accelBias[2])) * scale,
		Temperature: 25 + (temp-2)/2,
	}
	if s.rotate {
		v := quat.Rotate(s.r, [3]float64{accelsData.X, accelsData.Y, accelsData.Z})
		accelsData.X, accelsData.Y, accelsData.Z = v[0], v[1], v[2]
	}
	m.bus.SetAccels(accelsData)

	// Push onto the queue for the estimator to consume; a full queue means
	// the estimator is behind and the sample is dropped.
	select {
	case m.accelQueue <- accelsData:
	default:
		m.bus.SetAlarm(telemetry.AlarmAttitude, telemetry.SeverityWarning)
	}

	// Gyros: average and scale. The queue gets the raw rate; the bias
	// arithmetic belongs to the estimator and correcting here would make
	// it integrate its own correction.
	avg, temp, err = drainFIFO(m.gyro)
	if err != nil {
		return fmt.Errorf("gyro: %w", err)
	}
	scale = m.gyro.Scale()
	gyrosData := telemetry.Gyros{
		X:           avg[0] * scale,
		Y:           avg[1] * scale,
		Z:           avg[2] * scale,
		Temperature: 35 + (temp+512)/340,
	}
	if s.rotate {
		v := quat.Rotate(s.r, [3]float64{gyrosData.X, gyrosData.Y, gyrosData.Z})
		gyrosData.X, gyrosData.Y, gyrosData.Z = v[0], v[1], v[2]
	}

	// Other consumers get a clean rate; the estimator needs the raw one to
	// run its own bias arithmetic.
	corrected := gyrosData
	if s.biasCorrectGyro {
		corrected.X += m.biasX.Load()
		corrected.Y += m.biasY.Load()
		corrected.Z += m.biasZ.Load()
	}
	m.bus.SetGyros(corrected)

	select {
	case m.gyroQueue <- gyrosData:
	default:
		m.bus.SetAlarm(telemetry.AlarmAttitude, telemetry.SeverityWarning)
	}

	var magErr error
	if m.mag != nil && m.mag.NewDataAvailable() {
		var values [3]int16
		if err := m.mag.Read(&values); err != nil {
			magErr = fmt.Errorf("mag: %w", err)
		} else {
			mag := telemetry.Magnetometer{
				X: -float64(values[0]),
				Y: -float64(values[1]),
				Z: -float64(values[2]),
			}
			m.bus.SetMagnetometer(mag)

			// The estimator does not consume mag yet; the queue exists
			// so a tilt-compensated heading can start reading without
			// touching this loop. Drops are silent.
			select {
			case m.magQueue <- mag:
			default:
			}
		}
	}

	// Most crafts never get enough information from gravity to zero the
	// yaw gyro, so pull its bias weakly toward a zero-mean rate.
	m.biasZ.Add(-corrected.Z * m.gains.Load().yawBiasRate)

	return magErr
}
