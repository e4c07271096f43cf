// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package attitude

import (
	"github.com/relabs-tech/attitude_computer/internal/quat"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

// settingsUpdated runs in the bus delivery context whenever the settings
// record changes. It swaps the tuning snapshot and seeds the bias cells.
func (m *Module) settingsUpdated(s telemetry.AttitudeSettings) {
	t := &tuning{
		accelKp:          s.AccelKp,
		accelKi:          s.AccelKi,
		yawBiasRate:      s.YawBiasRate,
		gyroGain:         s.GyroGain,
		zeroDuringArming: s.ZeroDuringArming,
		biasCorrectGyro:  s.BiasCorrectGyro,
		accelBias:        s.AccelBias,
	}

	if s.BoardRotation == [3]float64{} {
		// Identity; skip the per-sample rotation entirely.
		t.r = quat.Identity()
		t.rotate = false
	} else {
		t.r = quat.ToR(quat.FromRPY(s.BoardRotation))
		t.rotate = true
	}

	m.settings.Store(t)
	m.gains.Store(&filterGains{accelKp: s.AccelKp, accelKi: s.AccelKi, yawBiasRate: s.YawBiasRate})

	// The persisted bias is stored as hundredths of a degree per second.
	m.biasX.Store(float64(s.GyroBias[0]) / 100)
	m.biasY.Store(float64(s.GyroBias[1]) / 100)
	m.biasZ.Store(float64(s.GyroBias[2]) / 100)
}
