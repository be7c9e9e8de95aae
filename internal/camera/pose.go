package camera

import (
	"errors"

	"github.com/chewxy/math32"

	"github.com/Faultbox/scenetag/pkg/math"
)

// ErrIncompletePose is returned by Restore when position, target or up is
// missing. The camera is left untouched.
var ErrIncompletePose = errors.New("camera pose needs position, target and up")

// Intrinsic is the pinhole approximation of the viewer projection. Fx and Fy
// are derived from the vertical field of view, not calibrated.
type Intrinsic struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Fx     float32 `json:"fx"`
	Fy     float32 `json:"fy"`
	Cx     float32 `json:"cx"`
	Cy     float32 `json:"cy"`
}

// Params is a camera pose as stored with an annotation. Vector fields are
// nil when absent from a loaded record.
type Params struct {
	// Extrinsic is the camera-to-world matrix, stored as the four
	// consecutive 4-element runs of its column-major elements.
	Extrinsic       [][]float32 `json:"extrinsic,omitempty"`
	Intrinsic       *Intrinsic  `json:"intrinsic,omitempty"`
	Position        []float32   `json:"position,omitempty"`
	Target          []float32   `json:"target,omitempty"`
	Direction       []float32   `json:"direction,omitempty"`
	Up              []float32   `json:"up,omitempty"`
	ViewDescription string      `json:"view_description"`
}

// Complete reports whether the pose can be restored.
func (p *Params) Complete() bool {
	return p != nil && len(p.Position) == 3 && len(p.Target) == 3 && len(p.Up) == 3
}

// Capture records the current view of cam orbiting ctl.Target.
func Capture(cam *Perspective, ctl *OrbitControls, description string) Params {
	chunks := cam.World().Chunks()
	extrinsic := make([][]float32, len(chunks))
	for i := range chunks {
		row := chunks[i]
		extrinsic[i] = row[:]
	}

	fy := float32(cam.Height) / (2 * math32.Tan(math.DegToRad(cam.FovY)/2))

	return Params{
		Extrinsic: extrinsic,
		Intrinsic: &Intrinsic{
			Width:  cam.Width,
			Height: cam.Height,
			Fx:     fy,
			Fy:     fy,
			Cx:     float32(cam.Width) / 2,
			Cy:     float32(cam.Height) / 2,
		},
		Position:        vecSlice(cam.Position),
		Target:          vecSlice(ctl.Target),
		Direction:       vecSlice(cam.Direction()),
		Up:              vecSlice(cam.Up),
		ViewDescription: description,
	}
}

// Restore moves cam to the stored position and up vector, points ctl at the
// stored target and drops any queued orbit motion.
func Restore(p Params, cam *Perspective, ctl *OrbitControls) error {
	if !p.Complete() {
		return ErrIncompletePose
	}
	cam.Position = sliceVec(p.Position)
	cam.Up = sliceVec(p.Up)
	ctl.Target = sliceVec(p.Target)
	ctl.Sync()
	return nil
}

func vecSlice(v math.Vec3) []float32 {
	return []float32{v.X, v.Y, v.Z}
}

func sliceVec(s []float32) math.Vec3 {
	return math.Vec3{X: s[0], Y: s[1], Z: s[2]}
}
