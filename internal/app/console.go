// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/attitude_computer/internal/config"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

func RunConsole() error {
	cfg := config.Get()

	// 1) Connect to the MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Subscribe to the attitude topic and print every message
	token := client.Subscribe(cfg.TopicAttitude, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a telemetry.AttitudeActual
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			log.Printf("MQTT payload unmarshal error: %v", err)
			return
		}

		fmt.Printf(
			"ROLL=%7.2f  PITCH=%7.2f  YAW=%7.2f  |q|=%6.4f\n",
			a.Roll, a.Pitch, a.Yaw,
			math.Sqrt(a.Q1*a.Q1+a.Q2*a.Q2+a.Q3*a.Q3+a.Q4*a.Q4),
		)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console subscribed to %s", cfg.TopicAttitude)

	// 3) Print alarm transitions as they happen
	token = client.Subscribe(cfg.TopicAlarms, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a telemetry.Alarms
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			log.Printf("MQTT payload unmarshal error: %v", err)
			return
		}
		log.Printf("alarms: sensors=%s attitude=%s", a.Sensors, a.Attitude)
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}

	// 4) Block until Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console shutting down")
	client.Disconnect(250)
	return nil
}
