// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/attitude_computer/internal/config"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

// displayData holds the latest records for the OLED update loop.
type displayData struct {
	mu sync.RWMutex

	attitude     telemetry.AttitudeActual
	haveAttitude bool

	alarms     telemetry.Alarms
	haveAlarms bool
}

// RunDisplay renders the live attitude on an SSD1306 OLED.
func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	data := &displayData{}

	// Connect to MQTT
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDDisplay)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	if token := client.Subscribe(cfg.TopicAttitude, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a telemetry.AttitudeActual
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			log.Printf("display: attitude unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.attitude = a
		data.haveAttitude = true
		data.mu.Unlock()
	}); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	if token := client.Subscribe(cfg.TopicAlarms, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a telemetry.Alarms
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			log.Printf("display: alarms unmarshal error: %v", err)
			return
		}
		data.mu.Lock()
		data.alarms = a
		data.haveAlarms = true
		data.mu.Unlock()
	}); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		data.mu.RLock()
		attitude := data.attitude
		haveAttitude := data.haveAttitude
		alarms := data.alarms
		haveAlarms := data.haveAlarms
		data.mu.RUnlock()

		if err := drawAttitude(dev, attitude, haveAttitude, alarms, haveAlarms); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

func drawAttitude(dev *ssd1306.Dev, a telemetry.AttitudeActual, haveAttitude bool, alarms telemetry.Alarms, haveAlarms bool) error {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	// Blank image
	for i := 0; i < 1024; i++ {
		img.Pix[i] = 0
	}

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	if !haveAttitude {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Attitude"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
	} else {
		drawer.Dot = fixed.P(0, 13)
		drawer.DrawBytes([]byte(fmt.Sprintf("R: %6.1f", a.Roll)))

		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte(fmt.Sprintf("P: %6.1f", a.Pitch)))

		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte(fmt.Sprintf("Y: %6.1f", a.Yaw)))

		if haveAlarms {
			drawer.Dot = fixed.P(0, 52)
			drawer.DrawBytes([]byte(fmt.Sprintf("S:%s A:%s", alarms.Sensors, alarms.Attitude)))
		}
	}

	return dev.Draw(dev.Bounds(), img, image.Point{})
}
