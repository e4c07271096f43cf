// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"encoding/json"
	"fmt"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topics maps each record to its broker topic.
type Topics struct {
	Attitude     string
	Gyros        string
	Accels       string
	Magnetometer string
	Alarms       string
	Settings     string
	FlightStatus string
}

// BindMQTT mirrors outbound bus records onto broker topics and applies
// retained or incoming settings and flight status messages back into the
// bus. Outbound publishes are fire-and-forget: the sensor loops run at
// hundreds of Hz and must never block on the broker.
func BindMQTT(bus *Bus, client mqtt.Client, topics Topics) error {
	outbound := map[string]string{
		RecordAttitude:     topics.Attitude,
		RecordGyros:        topics.Gyros,
		RecordAccels:       topics.Accels,
		RecordMagnetometer: topics.Magnetometer,
		RecordAlarms:       topics.Alarms,
	}

	bus.SetPublishHook(func(record string, v interface{}) {
		topic := outbound[record]
		if topic == "" {
			return
		}
		payload, err := json.Marshal(v)
		if err != nil {
			log.Printf("telemetry: marshal error (%s): %v", record, err)
			return
		}
		client.Publish(topic, 0, true, payload)
	})

	if token := client.Subscribe(topics.Settings, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s AttitudeSettings
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("telemetry: settings payload unmarshal error: %v", err)
			return
		}
		bus.SetAttitudeSettings(s)
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topics.Settings, token.Error())
	}

	if token := client.Subscribe(topics.FlightStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var s FlightStatus
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			log.Printf("telemetry: flight status payload unmarshal error: %v", err)
			return
		}
		bus.SetFlightStatus(s)
	}); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topics.FlightStatus, token.Error())
	}

	return nil
}
