package thymio

// Protocol variable names.
const (
	VarMotorLeftTarget  = "motor.left.target"
	VarMotorRightTarget = "motor.right.target"
	VarMotorLeftSpeed   = "motor.left.speed"
	VarMotorRightSpeed  = "motor.right.speed"

	VarProxHorizontal    = "prox.horizontal" // 7 sensors
	VarProxGroundAmbiant = "prox.ground.ambiant"
	VarProxGroundReflect = "prox.ground.reflected"
	VarProxGroundDelta   = "prox.ground.delta"
	VarProxCommRx        = "prox.comm.rx"
	VarAccelerometer     = "acc" // x, y, z
	VarButtonForward     = "button.forward"
	VarButtonBackward    = "button.backward"
	VarButtonLeft        = "button.left"
	VarButtonRight       = "button.right"
	VarButtonCenter      = "button.center"
	VarMicIntensity      = "mic.intensity"
	VarSDPresent         = "sd.present"
	VarTemperature       = "temperature"
	VarTimerPeriod       = "timer.period"
)

// Horizontal proximity sensor indices.
const (
	ProxFrontLeft = iota
	ProxFrontMiddleLeft
	ProxFront
	ProxFrontMiddleRight
	ProxFrontRight
	ProxBackLeft
	ProxBackRight
)

// Motor target limits.
const (
	MinMotorTarget = -500
	MaxMotorTarget = 500
)

// Variables is one batch of changed variables keyed by protocol name.
type Variables map[string][]float64

// Has reports whether every key is present in the batch.
func (v Variables) Has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := v[k]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the batch.
func (v Variables) Clone() Variables {
	if v == nil {
		return nil
	}
	out := make(Variables, len(v))
	for k, vals := range v {
		cp := make([]float64, len(vals))
		copy(cp, vals)
		out[k] = cp
	}
	return out
}

// Scalar returns the first element of a variable and whether it was present.
func (v Variables) Scalar(key string) (float64, bool) {
	vals, ok := v[key]
	if !ok || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}
