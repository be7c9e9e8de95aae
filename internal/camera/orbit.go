package camera

import (
	gomath "math"
	"time"

	"github.com/charmbracelet/harmonica"
	"github.com/chewxy/math32"

	"github.com/Faultbox/scenetag/internal/mesh"
	"github.com/Faultbox/scenetag/pkg/math"
)

const (
	// Polar angle is kept this far from the poles.
	polarEpsilon = 1e-6
	// Pending motion below this is dropped.
	settleEpsilon = 1e-6
)

// dampedAxis holds motion still to be applied on one axis. Each update the
// spring pulls the remainder toward zero and the consumed part is applied.
type dampedAxis struct {
	remaining float64
	velocity  float64
}

func (a *dampedAxis) step(s harmonica.Spring) float64 {
	if a.idle() {
		a.remaining, a.velocity = 0, 0
		return 0
	}
	prev := a.remaining
	a.remaining, a.velocity = s.Update(a.remaining, a.velocity, 0)
	if a.idle() {
		a.remaining, a.velocity = 0, 0
	}
	return prev - a.remaining
}

func (a *dampedAxis) flush() float64 {
	v := a.remaining
	a.remaining, a.velocity = 0, 0
	return v
}

func (a *dampedAxis) idle() bool {
	return gomath.Abs(a.remaining) < settleEpsilon && gomath.Abs(a.velocity) < settleEpsilon
}

// OrbitControls orbits a Perspective camera around Target. Rotation and pan
// input is eased in over several updates when DampingFactor is positive.
type OrbitControls struct {
	Camera *Perspective
	Target math.Vec3

	MinDistance float32
	MaxDistance float32

	// DampingFactor is the share of pending motion applied per tick at the
	// reference rate. Zero applies input immediately.
	DampingFactor float64

	RotateSpeed float32
	PanSpeed    float32

	theta, phi dampedAxis
	pan        [3]dampedAxis
	scale      float32

	tickRate int
	dt       time.Duration
	spring   harmonica.Spring
}

// NewOrbitControls attaches controls to cam. tickRate is the reference
// update rate used to derive the spring stiffness from dampingFactor.
func NewOrbitControls(cam *Perspective, dampingFactor float64, tickRate int) *OrbitControls {
	if tickRate <= 0 {
		tickRate = 60
	}
	c := &OrbitControls{
		Camera:        cam,
		MinDistance:   0,
		MaxDistance:   math32.Inf(1),
		DampingFactor: dampingFactor,
		RotateSpeed:   1,
		PanSpeed:      1,
		scale:         1,
		tickRate:      tickRate,
	}
	c.setStep(time.Second / time.Duration(tickRate))
	return c
}

// TickInterval returns the update period matching the reference rate.
func (c *OrbitControls) TickInterval() time.Duration {
	return time.Second / time.Duration(c.tickRate)
}

func (c *OrbitControls) setStep(dt time.Duration) {
	c.dt = dt
	// A critically damped spring whose decay matches losing DampingFactor
	// of the remainder per reference tick.
	freq := 1.0
	if c.DampingFactor > 0 && c.DampingFactor < 1 {
		freq = -gomath.Log(1-c.DampingFactor) * float64(c.tickRate)
	}
	c.spring = harmonica.NewSpring(dt.Seconds(), freq, 1.0)
}

func (c *OrbitControls) damped() bool {
	return c.DampingFactor > 0 && c.DampingFactor < 1
}

// Rotate queues an orbit by a pointer drag of (dx, dy) pixels. A drag across
// the full viewport height turns the camera once around.
func (c *OrbitControls) Rotate(dx, dy float32) {
	h := float32(c.Camera.Height)
	if h <= 0 {
		return
	}
	c.theta.remaining -= float64(2 * math32.Pi * dx / h * c.RotateSpeed)
	c.phi.remaining -= float64(2 * math32.Pi * dy / h * c.RotateSpeed)
}

// Dolly scales the distance to the target by factor on the next update.
// Factors above one move the camera away.
func (c *OrbitControls) Dolly(factor float32) {
	if factor <= 0 {
		return
	}
	c.scale *= factor
}

// Pan queues a sideways move of the target by a drag of (dx, dy) pixels,
// scaled so the point under the cursor follows it at the target distance.
func (c *OrbitControls) Pan(dx, dy float32) {
	h := float32(c.Camera.Height)
	if h <= 0 {
		return
	}
	dist := c.Camera.Position.Sub(c.Target).Length()
	dist *= math32.Tan(math.DegToRad(c.Camera.FovY) / 2)

	world := c.Camera.World()
	right := world.Column(0).Scale(-2 * dx * dist / h * c.PanSpeed)
	up := world.Column(1).Scale(2 * dy * dist / h * c.PanSpeed)
	move := right.Add(up)

	c.pan[0].remaining += float64(move.X)
	c.pan[1].remaining += float64(move.Y)
	c.pan[2].remaining += float64(move.Z)
}

// Moving reports whether queued motion is still being applied.
func (c *OrbitControls) Moving() bool {
	if c.scale != 1 || !c.theta.idle() || !c.phi.idle() {
		return true
	}
	for i := range c.pan {
		if !c.pan[i].idle() {
			return true
		}
	}
	return false
}

// Update advances the controls by dt and re-aims the camera. It reports
// whether the camera moved.
func (c *OrbitControls) Update(dt time.Duration) bool {
	if dt <= 0 {
		dt = c.TickInterval()
	}
	if dt != c.dt {
		c.setStep(dt)
	}

	step := func(a *dampedAxis) float32 {
		if c.damped() {
			return float32(a.step(c.spring))
		}
		return float32(a.flush())
	}

	dTheta := step(&c.theta)
	dPhi := step(&c.phi)
	dPan := math.Vec3{X: step(&c.pan[0]), Y: step(&c.pan[1]), Z: step(&c.pan[2])}
	scale := c.scale
	c.scale = 1

	before := c.Camera.Position
	beforeTarget := c.Target

	// Work in a frame where Up is +Y.
	toY, fromY := upFrame(c.Camera.Up)
	offset := toY.TransformDirection(c.Camera.Position.Sub(c.Target))
	radius, theta, phi := toSpherical(offset)

	theta += dTheta
	phi = clamp(phi+dPhi, polarEpsilon, math32.Pi-polarEpsilon)
	radius = clamp(radius*scale, c.MinDistance, c.MaxDistance)

	c.Target = c.Target.Add(dPan)
	offset = fromY.TransformDirection(fromSpherical(radius, theta, phi))
	c.Camera.Position = c.Target.Add(offset)
	c.Camera.LookAt(c.Target)

	return before.Distance(c.Camera.Position) > 1e-6 || beforeTarget.Distance(c.Target) > 1e-6
}

// Sync drops queued motion and re-aims the camera at Target. Call it after
// moving the camera or target directly.
func (c *OrbitControls) Sync() {
	c.theta.flush()
	c.phi.flush()
	for i := range c.pan {
		c.pan[i].flush()
	}
	c.scale = 1

	dist := c.Camera.Position.Distance(c.Target)
	if dist > 0 && (dist < c.MinDistance || dist > c.MaxDistance) {
		dir := c.Camera.Position.Sub(c.Target).Scale(1 / dist)
		c.Camera.Position = c.Target.Add(dir.Scale(clamp(dist, c.MinDistance, c.MaxDistance)))
	}
	c.Camera.LookAt(c.Target)
}

// Fit frames m: the target moves to the origin (the mesh's display center),
// the camera onto +Z at the fit distance, and the distance limits follow the
// mesh size.
func (c *OrbitControls) Fit(m *mesh.Mesh) {
	fit := m.FitDistance(c.Camera.FovY)
	c.MinDistance = fit.MinDistance
	c.MaxDistance = fit.MaxDistance
	c.Target = math.Vec3{}
	c.Camera.Up = math.Vec3{Y: 1}
	c.Camera.Position = math.Vec3{Z: fit.Distance}
	c.Sync()
}

// upFrame returns the rotation taking up onto +Y and its inverse.
func upFrame(up math.Vec3) (toY, fromY math.Mat4) {
	up = up.Normalize()
	y := math.Vec3{Y: 1}
	if up.LengthSquared() == 0 {
		return math.Identity(), math.Identity()
	}
	d := clamp(up.Dot(y), -1, 1)
	if d > 1-1e-6 {
		return math.Identity(), math.Identity()
	}
	axis := up.Cross(y)
	if axis.LengthSquared() < 1e-12 {
		axis = math.Vec3{X: 1}
	}
	axis = axis.Normalize()
	angle := math32.Acos(d)
	return math.RotateAxis(axis, angle), math.RotateAxis(axis, -angle)
}

// toSpherical returns radius, azimuth around +Y measured from +Z, and polar
// angle from +Y.
func toSpherical(v math.Vec3) (radius, theta, phi float32) {
	radius = v.Length()
	if radius == 0 {
		return 0, 0, 0
	}
	theta = math32.Atan2(v.X, v.Z)
	phi = math32.Acos(clamp(v.Y/radius, -1, 1))
	return radius, theta, phi
}

func fromSpherical(radius, theta, phi float32) math.Vec3 {
	s := math32.Sin(phi) * radius
	return math.Vec3{
		X: s * math32.Sin(theta),
		Y: math32.Cos(phi) * radius,
		Z: s * math32.Cos(theta),
	}
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}
