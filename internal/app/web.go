// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/attitude_computer/internal/config"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// webState caches the latest records for the push loop.
type webState struct {
	mu sync.RWMutex

	attitude     telemetry.AttitudeActual
	haveAttitude bool

	alarms     telemetry.Alarms
	haveAlarms bool
}

type webPayload struct {
	Attitude *telemetry.AttitudeActual `json:"attitude,omitempty"`
	Alarms   *telemetry.Alarms         `json:"alarms,omitempty"`
}

func (s *webState) snapshot() webPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p webPayload
	if s.haveAttitude {
		a := s.attitude
		p.Attitude = &a
	}
	if s.haveAlarms {
		a := s.alarms
		p.Alarms = &a
	}
	return p
}

// RunWeb serves a live attitude view: an HTML page at / and a websocket at
// /ws that pushes the latest attitude and alarms at 10 Hz.
func RunWeb() error {
	cfg := config.Get()

	state := &webState{}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web connected to MQTT broker at %s", cfg.MQTTBroker)

	if token := client.Subscribe(cfg.TopicAttitude, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a telemetry.AttitudeActual
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			log.Printf("web: attitude unmarshal error: %v", err)
			return
		}
		state.mu.Lock()
		state.attitude = a
		state.haveAttitude = true
		state.mu.Unlock()
	}); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	if token := client.Subscribe(cfg.TopicAlarms, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var a telemetry.Alarms
		if err := json.Unmarshal(msg.Payload(), &a); err != nil {
			log.Printf("web: alarms unmarshal error: %v", err)
			return
		}
		state.mu.Lock()
		state.alarms = a
		state.haveAlarms = true
		state.mu.Unlock()
	}); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("web: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteJSON(state.snapshot()); err != nil {
				return
			}
		}
	})

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Attitude</title>
<style>
body { font-family: monospace; background: #111; color: #0f0; padding: 2em; }
.angle { font-size: 2.5em; }
.alarm-OK { color: #0f0; }
.alarm-WARNING { color: #ff0; }
.alarm-ERROR { color: #f80; }
.alarm-CRITICAL { color: #f00; }
</style>
</head>
<body>
<h1>attitude computer</h1>
<div class="angle">roll <span id="roll">--</span>&deg;</div>
<div class="angle">pitch <span id="pitch">--</span>&deg;</div>
<div class="angle">yaw <span id="yaw">--</span>&deg;</div>
<p>sensors: <span id="al-sensors">?</span> &middot; attitude: <span id="al-attitude">?</span></p>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const d = JSON.parse(ev.data);
  if (d.attitude) {
    document.getElementById("roll").textContent = d.attitude.roll.toFixed(1);
    document.getElementById("pitch").textContent = d.attitude.pitch.toFixed(1);
    document.getElementById("yaw").textContent = d.attitude.yaw.toFixed(1);
  }
  if (d.alarms) {
    for (const k of ["sensors", "attitude"]) {
      const el = document.getElementById("al-" + k);
      el.textContent = d.alarms[k];
      el.className = "alarm-" + d.alarms[k];
    }
  }
};
</script>
</body>
</html>
`
