// Package packets defines the viewer websocket messages.
//
// Every frame is a JSON envelope {"type": ..., "data": ...}.
package packets

import (
	"encoding/json"
	"fmt"

	"github.com/Faultbox/scenetag/internal/annotation"
	"github.com/Faultbox/scenetag/internal/camera"
)

// Message types, viewer -> server
const (
	Load             = "load"              // Load a mesh by name
	Resize           = "resize"            // Viewport size changed
	Orbit            = "orbit"             // Rotate drag
	PanView          = "pan"               // Pan drag
	Zoom             = "zoom"              // Dolly
	SetCamera        = "camera"            // Jump to a pose
	DoubleClick      = "dblclick"          // Pick at a screen point
	Toggle           = "toggle"            // Toggle an instance directly
	Clear            = "clear"             // Drop the selection
	AddAnnotation    = "add_annotation"    // Annotate the selection
	DeleteAnnotation = "delete_annotation" // Delete by store index
	ViewAnnotation   = "view_annotation"   // Restore a saved view
	Filter           = "filter"            // Filter by question type
	Save             = "save"              // Retry persisting
)

// Message types, server -> viewer
const (
	MeshLoaded     = "mesh"
	SelectionState = "selection"
	HighlightState = "highlight"
	CameraState    = "camera"
	AnnotationList = "annotations"
	ViewState      = "view"
	NoticeMessage  = "notice"
)

// Inbound is a frame received from the viewer.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v. An absent payload leaves v as is.
func (m Inbound) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Type, err)
	}
	return nil
}

// NewInbound builds an inbound frame, as a viewer would send it.
func NewInbound(typ string, data any) (Inbound, error) {
	if data == nil {
		return Inbound{Type: typ}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: typ, Data: raw}, nil
}

// Outbound is a frame sent to the viewer.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// LoadRequest (load)
type LoadRequest struct {
	Name string `json:"name"`
}

// ResizeRequest (resize)
type ResizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DragRequest (orbit, pan) carries a pointer move in pixels.
type DragRequest struct {
	DX float32 `json:"dx"`
	DY float32 `json:"dy"`
}

// ZoomRequest (zoom). Factors above one move away from the target.
type ZoomRequest struct {
	Factor float32 `json:"factor"`
}

// PointRequest (dblclick) is a point in viewport pixels, origin top left.
type PointRequest struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// ToggleRequest (toggle)
type ToggleRequest struct {
	ID int64 `json:"id"`
}

// AddRequest (add_annotation)
type AddRequest struct {
	Description string `json:"description"`
}

// IndexRequest (delete_annotation, view_annotation)
type IndexRequest struct {
	Index int `json:"index"`
}

// FilterRequest (filter). Empty or "all" shows everything.
type FilterRequest struct {
	QuestionType string `json:"question_type"`
}

// Mesh (mesh) announces the installed mesh. The viewer fetches the geometry
// from URL and translates it by Offset.
type Mesh struct {
	Name      string     `json:"name"`
	URL       string     `json:"url"`
	Vertices  int        `json:"vertices"`
	Triangles int        `json:"triangles"`
	Min       [3]float32 `json:"min"`
	Max       [3]float32 `json:"max"`
	Offset    [3]float32 `json:"offset"`
	Instances int        `json:"instances"` // Distinct ids, 0 without a mask
	Grid      bool       `json:"grid"`
}

// Selection (selection) lists the selected ids in selection order.
type Selection struct {
	IDs []int64 `json:"ids"`
}

// Highlight (highlight) replaces the current highlight. An empty URL clears
// it.
type Highlight struct {
	URL       string  `json:"url,omitempty"`
	IDs       []int64 `json:"ids"`
	Vertices  int     `json:"vertices"`
	Triangles int     `json:"triangles"`
}

// Camera (camera) is the current pose.
type Camera struct {
	Position  [3]float32 `json:"position"`
	Target    [3]float32 `json:"target"`
	Up        [3]float32 `json:"up"`
	Direction [3]float32 `json:"direction"`
	FovY      float32    `json:"fov"`
	Near      float32    `json:"near"`
	Far       float32    `json:"far"`
}

// Annotations (annotations) is the preview listing for the active filter.
type Annotations struct {
	Filter        string             `json:"filter"`
	QuestionTypes []string           `json:"question_types"`
	Total         int                `json:"total"`
	Matches       int                `json:"matches"`
	Preview       []annotation.Entry `json:"preview"`
}

// View (view) is the question and answer text of a viewed annotation.
type View struct {
	Index    int    `json:"index"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Notice levels
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Notice (notice) is a time-limited notification. TTL 0 stays until replaced.
type Notice struct {
	Level string `json:"level"`
	Text  string `json:"text"`
	TTLMs int64  `json:"ttl_ms"`
	Kind  string `json:"kind,omitempty"` // Error kind for failures
}

// CameraRequest (camera) is a pose to jump to.
type CameraRequest = camera.Params
