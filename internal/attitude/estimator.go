package attitude

import (
	"errors"
	"math"
	"time"

	"github.com/relabs-tech/attitude_computer/internal/quat"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

// errQueueTimeout means no paired sample arrived within the receive window.
var errQueueTimeout = errors.New("sample queue timeout")

// runAttitude is the estimator loop. It blocks on the sample queues, so its
// pace is set by the acquisition loop.
func (m *Module) runAttitude() {
	m.bus.ClearAlarm(telemetry.AlarmAttitude)

	// Force a settings load so the rotation and gains are populated before
	// the first step.
	m.settingsUpdated(m.bus.AttitudeSettings())

	for {
		m.updateAttitude()
		m.wdg.Stroke(telemetry.WDGAttitude)
	}
}

// updateAttitude runs one complementary filter step: wait for a paired
// gyro+accel sample, correct the rates toward the gravity direction, and
// integrate the quaternion.
func (m *Module) updateAttitude() error {
	var gyros telemetry.Gyros
	var accels telemetry.Accels

	select {
	case gyros = <-m.gyroQueue:
	case <-time.After(queueTimeout):
		m.bus.SetAlarm(telemetry.AlarmAttitude, telemetry.SeverityError)
		return errQueueTimeout
	}
	select {
	case accels = <-m.accelQueue:
	case <-time.After(queueTimeout):
		m.bus.SetAlarm(telemetry.AlarmAttitude, telemetry.SeverityError)
		return errQueueTimeout
	}

	// dT comes from this loop's own clock, not sensor timestamps.
	now := m.now()
	dT := now.Sub(m.lastStep).Seconds()
	if m.lastStep.IsZero() || dT <= 0 {
		dT = m.period.Seconds()
	}
	m.lastStep = now

	g := m.gains.Load()
	q := m.q

	// Rotate gravity to body frame and cross with accels.
	grot := [3]float64{
		-(2 * (q[1]*q[3] - q[0]*q[2])),
		-(2 * (q[2]*q[3] + q[0]*q[1])),
		-(q[0]*q[0] - q[1]*q[1] - q[2]*q[2] + q[3]*q[3]),
	}
	accelErr := quat.Cross([3]float64{accels.X, accels.Y, accels.Z}, grot)

	// Account for accel magnitude. A near-zero vector carries no attitude
	// information, so that step integrates gyros only.
	accelMag := math.Sqrt(accels.X*accels.X + accels.Y*accels.Y + accels.Z*accels.Z)
	if accelMag > 1e-6 {
		accelErr[0] /= accelMag
		accelErr[1] /= accelMag
		accelErr[2] /= accelMag

		// Accumulate the error integral into the bias estimate. Ki is
		// applied to the error directly, so it carries implicit units.
		m.biasX.Add(accelErr[0] * g.accelKi)
		m.biasY.Add(accelErr[1] * g.accelKi)

		// Proportional correction, dT-normalized so the response time is
		// independent of the step size.
		gyros.X += accelErr[0] * g.accelKp / dT
		gyros.Y += accelErr[1] * g.accelKp / dT
		gyros.Z += accelErr[2] * g.accelKp / dT
	}

	// Quaternion time derivative; the /360 folds the deg→rad conversion
	// into the usual half factor.
	f := dT * math.Pi / 360
	qdot := [4]float64{
		(-q[1]*gyros.X - q[2]*gyros.Y - q[3]*gyros.Z) * f,
		(q[0]*gyros.X - q[3]*gyros.Y + q[2]*gyros.Z) * f,
		(q[3]*gyros.X + q[0]*gyros.Y - q[1]*gyros.Z) * f,
		(-q[2]*gyros.X + q[1]*gyros.Y + q[0]*gyros.Z) * f,
	}

	// Take a time step.
	for i := range q {
		q[i] += qdot[i]
	}

	if q[0] < 0 {
		for i := range q {
			q[i] = -q[i]
		}
	}

	// Renormalize.
	qmag := quat.Norm(q)
	for i := range q {
		q[i] /= qmag
	}

	// If the quaternion has become inappropriately short or NaN, reinit.
	// This should never actually happen.
	if math.Abs(qmag) < 1e-3 || math.IsNaN(qmag) {
		q = [4]float64{1, 0, 0, 0}
	}

	m.q = q

	rpy := quat.ToRPY(q)
	m.bus.SetAttitude(telemetry.AttitudeActual{
		Q1:    q[0],
		Q2:    q[1],
		Q3:    q[2],
		Q4:    q[3],
		Roll:  rpy[0],
		Pitch: rpy[1],
		Yaw:   rpy[2],
	})

	m.bus.ClearAlarm(telemetry.AlarmAttitude)
	return nil
}
