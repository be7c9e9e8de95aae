// Package camera provides the viewer camera, its orbit controls and the
// pose codec stored with annotations.
package camera

import (
	"github.com/Faultbox/scenetag/pkg/math"
)

// Perspective is a perspective camera. Its orientation is fixed by LookAt.
type Perspective struct {
	Position math.Vec3
	Up       math.Vec3
	FovY     float32 // Vertical, degrees
	Near     float32
	Far      float32
	Width    int
	Height   int

	world math.Mat4
}

// NewPerspective creates a camera at (0, 0, 5) looking down -Z with +Y up.
func NewPerspective(fovY, near, far float32, width, height int) *Perspective {
	c := &Perspective{
		Position: math.Vec3{Z: 5},
		Up:       math.Vec3{Y: 1},
		FovY:     fovY,
		Near:     near,
		Far:      far,
		Width:    width,
		Height:   height,
	}
	c.LookAt(math.Vec3{})
	return c
}

// LookAt orients the camera toward target, keeping Up as the vertical hint.
func (c *Perspective) LookAt(target math.Vec3) {
	c.world = math.LookAtWorld(c.Position, target, c.Up)
}

// World returns the camera-to-world matrix.
func (c *Perspective) World() math.Mat4 {
	return c.world
}

// View returns the world-to-camera matrix.
func (c *Perspective) View() math.Mat4 {
	return c.world.Inverse()
}

// Aspect returns width/height, or 1 for an empty viewport.
func (c *Perspective) Aspect() float32 {
	if c.Width <= 0 || c.Height <= 0 {
		return 1
	}
	return float32(c.Width) / float32(c.Height)
}

// Projection returns the projection matrix.
func (c *Perspective) Projection() math.Mat4 {
	return math.Perspective(math.DegToRad(c.FovY), c.Aspect(), c.Near, c.Far)
}

// ViewProjection returns Projection * View.
func (c *Perspective) ViewProjection() math.Mat4 {
	return c.Projection().Mul(c.View())
}

// Viewport returns the viewport size in pixels.
func (c *Perspective) Viewport() (width, height float32) {
	return float32(c.Width), float32(c.Height)
}

// Resize updates the viewport size.
func (c *Perspective) Resize(width, height int) {
	c.Width = width
	c.Height = height
}

// Direction returns the unit view direction in world space.
func (c *Perspective) Direction() math.Vec3 {
	return c.world.Column(2).Negate().Normalize()
}
