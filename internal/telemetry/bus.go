// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry is the in-process object store that carries every record
// between the attitude module and the rest of the system. Producers call the
// Set* methods, consumers read the latest value with the matching getter or
// register a callback for the records that drive behavior (settings, flight
// status). An optional MQTT bridge mirrors outbound records onto broker
// topics and feeds inbound records back into the store.
package telemetry

import "sync"

// Bus holds the latest value of every record.
//
// Callbacks fire synchronously in the caller's context, after the record has
// been stored. The publish hook (set by the MQTT bridge) only sees outbound
// records; settings and flight status flow inward and are never echoed back
// to the broker.
type Bus struct {
	mu sync.RWMutex

	attitude AttitudeActual
	gyros    Gyros
	accels   Accels
	mag      Magnetometer
	settings AttitudeSettings
	status   FlightStatus
	alarms   Alarms

	settingsCbs []func(AttitudeSettings)
	statusCbs   []func(FlightStatus)

	publish func(record string, v interface{})
}

// Record names handed to the publish hook.
const (
	RecordAttitude     = "attitude"
	RecordGyros        = "gyros"
	RecordAccels       = "accels"
	RecordMagnetometer = "magnetometer"
	RecordAlarms       = "alarms"
)

func NewBus() *Bus {
	return &Bus{
		alarms: Alarms{Sensors: SeverityOK, Attitude: SeverityOK},
	}
}

// Attitude returns the latest attitude estimate.
func (b *Bus) Attitude() AttitudeActual {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attitude
}

func (b *Bus) SetAttitude(a AttitudeActual) {
	b.mu.Lock()
	b.attitude = a
	pub := b.publish
	b.mu.Unlock()
	if pub != nil {
		pub(RecordAttitude, a)
	}
}

// Gyros returns the latest published gyro sample (bias-corrected when the
// settings enable it).
func (b *Bus) Gyros() Gyros {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gyros
}

func (b *Bus) SetGyros(g Gyros) {
	b.mu.Lock()
	b.gyros = g
	pub := b.publish
	b.mu.Unlock()
	if pub != nil {
		pub(RecordGyros, g)
	}
}

// Accels returns the latest accelerometer sample.
func (b *Bus) Accels() Accels {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accels
}

func (b *Bus) SetAccels(a Accels) {
	b.mu.Lock()
	b.accels = a
	pub := b.publish
	b.mu.Unlock()
	if pub != nil {
		pub(RecordAccels, a)
	}
}

// Magnetometer returns the latest mag sample.
func (b *Bus) Magnetometer() Magnetometer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mag
}

func (b *Bus) SetMagnetometer(m Magnetometer) {
	b.mu.Lock()
	b.mag = m
	pub := b.publish
	b.mu.Unlock()
	if pub != nil {
		pub(RecordMagnetometer, m)
	}
}

// AttitudeSettings returns the latest settings record.
func (b *Bus) AttitudeSettings() AttitudeSettings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// SetAttitudeSettings stores the record and fires the connected callbacks in
// the caller's context, the way a broker delivery would.
func (b *Bus) SetAttitudeSettings(s AttitudeSettings) {
	b.mu.Lock()
	b.settings = s
	cbs := make([]func(AttitudeSettings), len(b.settingsCbs))
	copy(cbs, b.settingsCbs)
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

// ConnectAttitudeSettings registers cb to run on every settings update.
func (b *Bus) ConnectAttitudeSettings(cb func(AttitudeSettings)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settingsCbs = append(b.settingsCbs, cb)
}

// FlightStatus returns the latest flight controller state.
func (b *Bus) FlightStatus() FlightStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

func (b *Bus) SetFlightStatus(s FlightStatus) {
	b.mu.Lock()
	b.status = s
	cbs := make([]func(FlightStatus), len(b.statusCbs))
	copy(cbs, b.statusCbs)
	b.mu.Unlock()
	for _, cb := range cbs {
		cb(s)
	}
}

// ConnectFlightStatus registers cb to run on every flight status update.
func (b *Bus) ConnectFlightStatus(cb func(FlightStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCbs = append(b.statusCbs, cb)
}

// SetPublishHook attaches the outbound mirror. Passing nil detaches it.
func (b *Bus) SetPublishHook(fn func(record string, v interface{})) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publish = fn
}
