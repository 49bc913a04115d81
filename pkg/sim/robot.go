package sim

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/teslashibe/go-thymio/pkg/protocol"
	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// Physical constants of the simulated robot.
const (
	// mmPerUnit converts motor units to mm/s (500 units is about 20 cm/s).
	mmPerUnit = 0.4
	wheelBase = 95.0 // mm

	// proxRange is the distance at which a horizontal sensor reads 0.
	proxRange = 100.0 // mm
	proxMax   = 4500.0

	arenaDepth = 1000.0 // mm

	// speedResponse is the fraction of the target gap closed per tick.
	speedResponse = 0.5
)

// proxAngles are the horizontal sensor directions in radians, positive to the left.
var proxAngles = [5]float64{
	40 * math.Pi / 180,
	20 * math.Pi / 180,
	0,
	-20 * math.Pi / 180,
	-40 * math.Pi / 180,
}

// writable lists the variables a client may set.
var writable = map[string]bool{
	thymio.VarMotorLeftTarget:  true,
	thymio.VarMotorRightTarget: true,
}

// Robot is one simulated Thymio.
//
// The model is a differential drive facing a flat wall: distance is measured
// along the wall normal and heading is the angle to that normal.
type Robot struct {
	id   string
	name string

	mu          sync.Mutex
	owner       string
	program     []Call
	leftTarget  int
	rightTarget int
	leftSpeed   float64
	rightSpeed  float64
	distance    float64
	heading     float64
	temperature float64
	leds        map[string][]int
	lastSound   string
	recording   int
	bumps       int
}

// NewRobot creates a robot standing distance mm from a wall.
func NewRobot(name string, distance, temperature float64) *Robot {
	return &Robot{
		id:          uuid.NewString(),
		name:        name,
		distance:    distance,
		temperature: temperature,
		leds:        make(map[string][]int),
		recording:   -1,
	}
}

// ID returns the node ID.
func (r *Robot) ID() string { return r.id }

// Name returns the display name.
func (r *Robot) Name() string { return r.name }

// Info returns the protocol description of the robot.
func (r *Robot) Info() protocol.NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := protocol.StatusAvailable
	if r.owner != "" {
		status = protocol.StatusBusy
	}
	return protocol.NodeInfo{ID: r.id, Name: r.name, Status: status}
}

// lock grants the robot to session. It fails if another session holds it.
func (r *Robot) lock(session string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != "" && r.owner != session {
		return fmt.Errorf("node busy")
	}
	r.owner = session
	return nil
}

func (r *Robot) unlock(session string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != session {
		return fmt.Errorf("node not locked")
	}
	r.release()
	return nil
}

// release drops the lock and stops the wheels. Caller holds r.mu.
func (r *Robot) release() {
	r.owner = ""
	r.program = nil
	r.leftTarget, r.rightTarget = 0, 0
}

// releaseIfOwner is used when a session disconnects.
func (r *Robot) releaseIfOwner(session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner != session {
		return false
	}
	r.release()
	return true
}

// ownedBy reports whether session holds the lock.
func (r *Robot) ownedBy(session string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner == session
}

// Owner returns the session holding the lock, or "".
func (r *Robot) Owner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

func (r *Robot) compile(program string) error {
	calls, err := Compile(program)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.program = calls
	r.mu.Unlock()
	return nil
}

// run executes the compiled program and returns the variables it changed.
func (r *Robot) run() (thymio.Variables, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.program) == 0 {
		return nil, fmt.Errorf("no program compiled")
	}

	changed := make(thymio.Variables)
	for _, c := range r.program {
		switch c.Fn {
		case "sound.play":
			r.lastSound = "play:" + c.Args[0]
		case "sound.system":
			r.lastSound = fmt.Sprintf("system:%d", c.Ints()[0])
		case "sound.record":
			r.recording = c.Ints()[0]
		case "sound.replay":
			r.lastSound = fmt.Sprintf("replay:%d", c.Ints()[0])
		default:
			vals := c.Ints()
			r.leds[c.Fn] = vals
			changed[c.Fn] = toFloats(vals)
		}
	}
	return changed, nil
}

// setVariables applies writes. Only motor targets are writable.
func (r *Robot) setVariables(vars map[string][]int) (thymio.Variables, error) {
	for name, vals := range vars {
		if !writable[name] {
			return nil, fmt.Errorf("variable '%s' is not writable", name)
		}
		if len(vals) != 1 {
			return nil, fmt.Errorf("variable '%s' expects 1 value, got %d", name, len(vals))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	changed := make(thymio.Variables, len(vars))
	for name, vals := range vars {
		v := clampTarget(vals[0])
		switch name {
		case thymio.VarMotorLeftTarget:
			r.leftTarget = v
		case thymio.VarMotorRightTarget:
			r.rightTarget = v
		}
		changed[name] = []float64{float64(v)}
	}
	return changed, nil
}

// Step advances the model by dt seconds and returns the sensor batch.
func (r *Robot) Step(dt float64) thymio.Variables {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leftSpeed += (float64(r.leftTarget) - r.leftSpeed) * speedResponse
	r.rightSpeed += (float64(r.rightTarget) - r.rightSpeed) * speedResponse

	vl, vr := r.leftSpeed*mmPerUnit, r.rightSpeed*mmPerUnit
	forward := (vl + vr) / 2
	r.heading = normalizeAngle(r.heading + (vr-vl)/wheelBase*dt)
	r.distance -= forward * math.Cos(r.heading) * dt

	if r.distance < 0 {
		r.distance = 0
		r.bumps++
	}
	if r.distance > arenaDepth {
		r.distance = arenaDepth
	}

	prox := make([]float64, 7)
	for i, a := range proxAngles {
		prox[i] = proxReading(r.distance, r.heading+a)
	}

	return thymio.Variables{
		thymio.VarProxHorizontal:  prox,
		thymio.VarMotorLeftSpeed:  {math.Round(r.leftSpeed)},
		thymio.VarMotorRightSpeed: {math.Round(r.rightSpeed)},
		thymio.VarTemperature:     {r.temperature},
	}
}

// proxReading models a sensor at bearing angle from the wall normal.
func proxReading(distance, angle float64) float64 {
	c := math.Cos(angle)
	if c < 0.2 {
		return 0
	}
	rng := distance / c
	if rng >= proxRange {
		return 0
	}
	return math.Round(proxMax * (1 - rng/proxRange))
}

func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func clampTarget(v int) int {
	if v < thymio.MinMotorTarget {
		return thymio.MinMotorTarget
	}
	if v > thymio.MaxMotorTarget {
		return thymio.MaxMotorTarget
	}
	return v
}

func toFloats(vals []int) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}
	return out
}

// RobotState is a snapshot of a robot for the HTTP API.
type RobotState struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Locked      bool             `json:"locked"`
	LeftTarget  int              `json:"left_target"`
	RightTarget int              `json:"right_target"`
	Distance    float64          `json:"distance_mm"`
	Heading     float64          `json:"heading_rad"`
	Temperature float64          `json:"temperature"`
	LEDs        map[string][]int `json:"leds"`
	LastSound   string           `json:"last_sound,omitempty"`
	Recording   int              `json:"recording"`
	Bumps       int              `json:"bumps"`
}

// State returns a snapshot of the robot.
func (r *Robot) State() RobotState {
	r.mu.Lock()
	defer r.mu.Unlock()

	leds := make(map[string][]int, len(r.leds))
	for k, v := range r.leds {
		leds[k] = append([]int(nil), v...)
	}
	return RobotState{
		ID:          r.id,
		Name:        r.name,
		Locked:      r.owner != "",
		LeftTarget:  r.leftTarget,
		RightTarget: r.rightTarget,
		Distance:    r.distance,
		Heading:     r.heading,
		Temperature: r.temperature,
		LEDs:        leds,
		LastSound:   r.lastSound,
		Recording:   r.recording,
		Bumps:       r.bumps,
	}
}

// SetDistance moves the robot, e.g. to stage a test.
func (r *Robot) SetDistance(mm float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.distance = mm
}
