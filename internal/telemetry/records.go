package telemetry

// AttitudeActual is the fused attitude estimate: a unit quaternion rotating
// the NED world frame into the body frame, plus the equivalent Euler angles
// in degrees.
type AttitudeActual struct {
	Q1 float64 `json:"q1"`
	Q2 float64 `json:"q2"`
	Q3 float64 `json:"q3"`
	Q4 float64 `json:"q4"`

	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Gyros is one averaged gyro sample in deg/s. The copy published for
// consumers is bias-corrected only when the settings enable gyro bias
// correction.
type Gyros struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Temperature float64 `json:"temp_c"`
}

// Accels is one averaged accelerometer sample in m/s².
type Accels struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Temperature float64 `json:"temp_c"`
}

// Magnetometer is one mag sample in sensor counts, sign-inverted from raw.
type Magnetometer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AttitudeSettings is the tuning record consumed by the attitude module.
// GyroBias is persisted in hundredths of a degree per second.
type AttitudeSettings struct {
	AccelKp     float64 `json:"accel_kp"`
	AccelKi     float64 `json:"accel_ki"`
	YawBiasRate float64 `json:"yaw_bias_rate"`
	GyroGain    float64 `json:"gyro_gain"`

	ZeroDuringArming bool `json:"zero_during_arming"`
	BiasCorrectGyro  bool `json:"bias_correct_gyro"`

	AccelBias [3]int16 `json:"accel_bias"` // raw ADC counts
	GyroBias  [3]int16 `json:"gyro_bias"`  // hundredths of deg/s

	BoardRotation [3]float64 `json:"board_rotation"` // roll, pitch, yaw in degrees
}

// ArmedStatus mirrors the flight controller arming state machine.
type ArmedStatus string

const (
	Disarmed ArmedStatus = "DISARMED"
	Arming   ArmedStatus = "ARMING"
	Armed    ArmedStatus = "ARMED"
)

// FlightStatus is published by the flight controller and only consumed here.
type FlightStatus struct {
	Armed ArmedStatus `json:"armed"`
}
