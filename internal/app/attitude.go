package app

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/attitude_computer/internal/attitude"
	"github.com/relabs-tech/attitude_computer/internal/config"
	"github.com/relabs-tech/attitude_computer/internal/sensors"
	"github.com/relabs-tech/attitude_computer/internal/telemetry"
)

// Raw-count scale factors for the simulated IMU.
const (
	simAccelScale = 0.001 // m/s² per count
	simGyroScale  = 0.01  // deg/s per count
)

// RunAttitude wires the estimator to the hardware (or the simulated IMU),
// bridges the bus to MQTT, and runs until interrupted.
func RunAttitude(simMode bool) error {
	cfg := config.Get()

	bus := telemetry.NewBus()
	wdg := telemetry.NewWatchdog()

	// Seed the settings record from config so the module has sane gains
	// before the first broker update arrives.
	bus.SetAttitudeSettings(defaultSettings(cfg))

	var (
		accelSrc sensors.FIFOSource
		gyroSrc  sensors.FIFOSource
		magSrc   sensors.MagSource
	)
	if simMode {
		log.Println("using simulated IMU")
		accel := sensors.NewSimFIFO(simAccelScale)
		gyro := sensors.NewSimFIFO(simGyroScale)
		mag := sensors.NewSimMag()
		go feedSimIMU(accel, gyro, mag, time.Duration(cfg.SensorPeriodMS)*time.Millisecond)
		accelSrc, gyroSrc, magSrc = accel, gyro, mag
	} else {
		dev, err := sensors.Open(cfg.IMUSPIDevice, cfg.IMUCSPin)
		if err != nil {
			return fmt.Errorf("IMU init: %w", err)
		}
		accelSrc, gyroSrc, magSrc = dev.Accel(), dev.Gyro(), dev.Mag()
	}

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDAttitude)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect: %w", token.Error())
	}
	defer client.Disconnect(250)
	log.Printf("connected to MQTT broker at %s", cfg.MQTTBroker)

	if err := telemetry.BindMQTT(bus, client, telemetry.Topics{
		Attitude:     cfg.TopicAttitude,
		Gyros:        cfg.TopicGyros,
		Accels:       cfg.TopicAccels,
		Magnetometer: cfg.TopicMagnetometer,
		Alarms:       cfg.TopicAlarms,
		Settings:     cfg.TopicSettings,
		FlightStatus: cfg.TopicFlightStatus,
	}); err != nil {
		return err
	}

	m := attitude.New(attitude.Config{
		Bus:      bus,
		Watchdog: wdg,
		Accel:    accelSrc,
		Gyro:     gyroSrc,
		Mag:      magSrc,
		Period:   time.Duration(cfg.SensorPeriodMS) * time.Millisecond,
	})
	m.Start()
	log.Println("attitude module started")

	go watchLiveness(wdg)

	// Block until Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("attitude shutting down")
	return nil
}

func defaultSettings(cfg *config.Config) telemetry.AttitudeSettings {
	return telemetry.AttitudeSettings{
		AccelKp:          cfg.AttitudeAccelKp,
		AccelKi:          cfg.AttitudeAccelKi,
		YawBiasRate:      cfg.AttitudeYawBiasRate,
		GyroGain:         cfg.AttitudeGyroGain,
		ZeroDuringArming: cfg.AttitudeZeroDuringArming,
		BiasCorrectGyro:  cfg.AttitudeBiasCorrectGyro,
		AccelBias: [3]int16{
			int16(cfg.AttitudeAccelBias[0]),
			int16(cfg.AttitudeAccelBias[1]),
			int16(cfg.AttitudeAccelBias[2]),
		},
		GyroBias: [3]int16{
			int16(cfg.AttitudeGyroBias[0]),
			int16(cfg.AttitudeGyroBias[1]),
			int16(cfg.AttitudeGyroBias[2]),
		},
		BoardRotation: cfg.AttitudeBoardRotation,
	}
}

// feedSimIMU produces a stationary, level craft: gravity on the accels, a
// zero gyro rate, and a constant magnetic field refreshed every tenth tick
// (50 Hz at the 2 ms default period).
func feedSimIMU(accel, gyro *sensors.SimFIFO, mag *sensors.SimMag, period time.Duration) {
	// The acquisition loop remaps (x, y, z) ← (raw y, raw x, −raw z), so
	// feed the inverse pattern.
	gravityRaw := sensors.RawSample{Z: int16(9.81 / simAccelScale), Temperature: 22}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	n := 0
	for range ticker.C {
		accel.Queue(gravityRaw)
		gyro.Queue(sensors.RawSample{Temperature: 20})
		n++
		if n%10 == 0 {
			mag.Set([3]int16{220, 0, -430})
		}
	}
}

// watchLiveness logs when either loop stops stroking its watchdog flag. The
// real supervisor lives outside this process; the log line is for bench use.
func watchLiveness(wdg *telemetry.Watchdog) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if wdg.Expired(telemetry.WDGSensors, 500*time.Millisecond) {
			log.Println("WARNING: sensors task watchdog expired")
		}
		if wdg.Expired(telemetry.WDGAttitude, 500*time.Millisecond) {
			log.Println("WARNING: attitude task watchdog expired")
		}
	}
}
