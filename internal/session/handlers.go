package session

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/annotation"
	"github.com/Faultbox/scenetag/internal/camera"
	"github.com/Faultbox/scenetag/internal/errs"
	"github.com/Faultbox/scenetag/internal/highlight"
	"github.com/Faultbox/scenetag/internal/instance"
	"github.com/Faultbox/scenetag/internal/network/packets"
	"github.com/Faultbox/scenetag/internal/resources"
)

// handle dispatches one inbound message.
func (s *Session) handle(msg packets.Inbound) {
	var err error
	switch msg.Type {
	case packets.Load:
		var req packets.LoadRequest
		if err = msg.Decode(&req); err == nil {
			err = s.load(req.Name)
		}
	case packets.Resize:
		var req packets.ResizeRequest
		if err = msg.Decode(&req); err == nil {
			s.cam.Resize(req.Width, req.Height)
		}
	case packets.Orbit:
		var req packets.DragRequest
		if err = msg.Decode(&req); err == nil {
			s.controls.Rotate(req.DX, req.DY)
		}
	case packets.PanView:
		var req packets.DragRequest
		if err = msg.Decode(&req); err == nil {
			s.controls.Pan(req.DX, req.DY)
		}
	case packets.Zoom:
		var req packets.ZoomRequest
		if err = msg.Decode(&req); err == nil {
			s.controls.Dolly(req.Factor)
		}
	case packets.SetCamera:
		var req packets.CameraRequest
		if err = msg.Decode(&req); err == nil {
			if err = camera.Restore(req, s.cam, s.controls); err == nil {
				s.sendCamera()
			}
		}
	case packets.DoubleClick:
		var req packets.PointRequest
		if err = msg.Decode(&req); err == nil {
			s.pick(req.X, req.Y)
		}
	case packets.Toggle:
		var req packets.ToggleRequest
		if err = msg.Decode(&req); err == nil {
			s.toggle(instance.ID(req.ID))
		}
	case packets.Clear:
		s.sel.Clear()
		s.selectionChanged()
	case packets.AddAnnotation:
		var req packets.AddRequest
		if err = msg.Decode(&req); err == nil {
			s.addAnnotation(req.Description)
		}
	case packets.DeleteAnnotation:
		var req packets.IndexRequest
		if err = msg.Decode(&req); err == nil {
			s.deleteAnnotation(req.Index)
		}
	case packets.ViewAnnotation:
		var req packets.IndexRequest
		if err = msg.Decode(&req); err == nil {
			s.viewAnnotation(req.Index)
		}
	case packets.Filter:
		var req packets.FilterRequest
		if err = msg.Decode(&req); err == nil {
			s.setFilter(req.QuestionType)
		}
	case packets.Save:
		s.persist("annotations saved", "saving annotations failed")
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}

	if err != nil {
		s.log.Warn("rejected message", zap.String("type", msg.Type), zap.Error(err))
		s.notifyError(err.Error(), err)
	}
}

// load starts fetching name. The mask is read before the mesh, and nothing
// is installed until both are in; a newer load makes this one stale.
func (s *Session) load(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: mesh name is empty", errs.ErrValidation)
	}
	s.generation++
	gen := s.generation
	opts := s.opts.Scene

	s.log.Info("loading mesh", zap.String("mesh", name), zap.Uint64("generation", gen))
	s.spawn(func(ctx context.Context) completion {
		scene, err := s.source.LoadScene(ctx, name, opts)
		return sceneLoaded{generation: gen, name: name, scene: scene, err: err}
	})
	return nil
}

type sceneLoaded struct {
	generation uint64
	name       string
	scene      *resources.Scene
	err        error
}

func (c sceneLoaded) apply(s *Session) {
	if c.generation != s.generation {
		s.log.Debug("dropping stale mesh", zap.String("mesh", c.name), zap.Uint64("generation", c.generation))
		return
	}
	if c.err != nil {
		s.log.Warn("mesh load failed", zap.String("mesh", c.name), zap.Error(c.err))
		s.notifyError(fmt.Sprintf("loading %s failed: %v", c.name, c.err), c.err)
		return
	}
	s.install(c.name, c.scene)
}

// install replaces the active mesh, dropping the previous mesh, selection,
// highlight and annotations, frames the camera and starts loading the
// annotations of the new mesh.
func (s *Session) install(name string, scene *resources.Scene) {
	s.name = name
	s.mesh = scene.Mesh
	s.index = scene.Index
	s.grid = scene.Grid
	s.sel.Clear()
	s.highlight = nil
	s.store.Reset(nil)
	s.filter = annotation.AllQuestions
	s.controls.Fit(s.mesh)

	b := s.mesh.Bounds
	s.send(packets.MeshLoaded, packets.Mesh{
		Name:      name,
		URL:       "/models/" + resources.URLPath(name),
		Vertices:  s.mesh.VertexCount(),
		Triangles: s.mesh.TriangleCount(),
		Min:       b.Min.Array(),
		Max:       b.Max.Array(),
		Offset:    s.mesh.Offset.Array(),
		Instances: s.index.Distinct(),
		Grid:      s.grid,
	})
	s.sendSelection()
	s.sendHighlight()
	s.sendCamera()
	s.sendAnnotations()

	if scene.MaskErr != nil && !errors.Is(scene.MaskErr, errs.ErrResourceNotFound) {
		s.notifyError("instance mask unusable: "+scene.MaskErr.Error(), scene.MaskErr)
	}

	gen := s.generation
	jsonName := resources.AnnotationName(name)
	fragment := s.opts.NameFragment
	collections := s.opts.Collections
	s.spawn(func(ctx context.Context) completion {
		list, err := annotation.Reload(ctx, s.backend, jsonName, fragment, collections)
		return annotationsLoaded{generation: gen, list: list, err: err}
	})
}

type annotationsLoaded struct {
	generation uint64
	list       []annotation.Annotation
	err        error
}

func (c annotationsLoaded) apply(s *Session) {
	if c.generation != s.generation {
		s.log.Debug("dropping stale annotations", zap.Uint64("generation", c.generation))
		return
	}
	if c.err != nil {
		s.log.Warn("annotation reload failed", zap.Error(c.err))
		return
	}
	// Annotations added since install come after the loaded ones.
	s.store.Reset(append(c.list, s.store.Snapshot()...))
	s.sendAnnotations()
}

func (s *Session) pick(x, y float32) {
	id, ok := s.picker.Pick(s.cam, s.mesh, s.index, x, y)
	if !ok {
		s.log.Debug("pick missed", zap.Float32("x", x), zap.Float32("y", y))
		return
	}
	s.toggle(id)
}

func (s *Session) toggle(id instance.ID) {
	added := s.sel.Toggle(id)
	s.log.Debug("selection toggled", zap.Int64("id", int64(id)), zap.Bool("added", added))
	s.selectionChanged()
}

// selectionChanged rebuilds the highlight from the current selection and
// pushes both.
func (s *Session) selectionChanged() {
	s.highlight = highlight.Rebuild(s.mesh, s.index, s.sel)
	s.sendSelection()
	s.sendHighlight()
}

func (s *Session) addAnnotation(description string) {
	params := camera.Capture(s.cam, s.controls, strings.TrimSpace(description))
	a, err := s.store.Add(description, s.sel.IDs(), params)
	if err != nil {
		s.notifyError(err.Error(), err)
		return
	}
	s.log.Info("annotation added", zap.String("mesh", s.name), zap.String("text", a.FullText))
	s.sendAnnotations()
	s.notify(packets.LevelInfo, "annotation added, saving...", 0, "")
	s.persist("annotation added and saved", "annotation added, but saving failed")
}

func (s *Session) deleteAnnotation(i int) {
	if !s.store.DeleteAt(i) {
		s.log.Debug("delete out of range", zap.Int("index", i))
		return
	}
	s.sendAnnotations()
	s.persist("annotation deleted and saved", "annotation deleted, but saving failed")
}

// viewAnnotation selects the objects of annotation i, restores its camera
// pose when complete and shows its question and answer.
func (s *Session) viewAnnotation(i int) {
	a, ok := s.store.Get(i)
	if !ok {
		s.log.Warn("view out of range", zap.Int("index", i))
		return
	}

	ids := a.Targets()
	if len(ids) == 0 {
		s.log.Warn("annotation has no objects", zap.Int("index", i))
		s.sel.Clear()
		s.selectionChanged()
		return
	}
	s.sel.Replace(ids)
	s.selectionChanged()

	if a.CameraParams != nil {
		if err := camera.Restore(*a.CameraParams, s.cam, s.controls); err != nil {
			s.log.Warn("annotation camera not restored", zap.Int("index", i), zap.Error(err))
		} else {
			s.sendCamera()
		}
	}

	s.send(packets.ViewState, packets.View{
		Index:    i,
		Question: a.Description,
		Answer:   a.Answer(),
	})
}

func (s *Session) setFilter(questionType string) {
	if questionType == "" {
		questionType = annotation.AllQuestions
	}
	s.filter = questionType
	s.sendAnnotations()
}

// persist saves the full list in the background and reports the outcome.
// The in-memory list is never rolled back. Saves of one mesh run one at a
// time; while one is in flight only the newest snapshot is kept and sent
// once it completes.
func (s *Session) persist(success, failure string) {
	if s.name == "" {
		s.notifyError(failure+": no mesh loaded", errs.ErrValidation)
		return
	}
	job := saveJob{mesh: s.name, list: s.store.Snapshot(), success: success, failure: failure}
	if s.saving[job.mesh] {
		s.pending[job.mesh] = job
		return
	}
	s.save(job)
}

type saveJob struct {
	mesh             string
	list             []annotation.Annotation
	success, failure string
}

func (s *Session) save(job saveJob) {
	s.saving[job.mesh] = true
	s.spawn(func(ctx context.Context) completion {
		res, err := annotation.Save(ctx, s.backend, job.mesh, job.list)
		return persisted{saveJob: job, result: res, err: err}
	})
}

type persisted struct {
	saveJob
	result annotation.Result
	err    error
}

func (c persisted) apply(s *Session) {
	delete(s.saving, c.mesh)
	if next, ok := s.pending[c.mesh]; ok {
		delete(s.pending, c.mesh)
		s.save(next)
	}

	if c.err != nil {
		s.log.Warn("saving annotations failed", zap.String("mesh", c.mesh), zap.Error(c.err))
		s.notify(packets.LevelError, c.failure, FailureTTL.Milliseconds(), errs.Kind(c.err))
		return
	}
	s.log.Info("annotations saved",
		zap.String("mesh", c.mesh),
		zap.Int("count", len(c.list)),
		zap.String("message", c.result.Message))
	s.notify(packets.LevelSuccess, c.success, SuccessTTL.Milliseconds(), "")
}

func (s *Session) send(typ string, data any) {
	if err := s.sink.Send(packets.Outbound{Type: typ, Data: data}); err != nil {
		s.log.Debug("send failed", zap.String("type", typ), zap.Error(err))
	}
}

func (s *Session) notify(level, text string, ttlMs int64, kind string) {
	s.send(packets.NoticeMessage, packets.Notice{Level: level, Text: text, TTLMs: ttlMs, Kind: kind})
}

func (s *Session) notifyError(text string, err error) {
	s.notify(packets.LevelError, text, FailureTTL.Milliseconds(), errs.Kind(err))
}

func (s *Session) sendSelection() {
	s.send(packets.SelectionState, packets.Selection{IDs: int64s(s.sel.IDs())})
}

func (s *Session) sendHighlight() {
	ids := int64s(s.sel.IDs())
	h := packets.Highlight{IDs: ids}
	if s.highlight != nil {
		h.URL = HighlightURL(s.name, ids)
		h.Vertices = s.highlight.VertexCount()
		h.Triangles = s.highlight.TriangleCount()
	}
	s.send(packets.HighlightState, h)
}

func (s *Session) sendCamera() {
	p := camera.Capture(s.cam, s.controls, "")
	var msg packets.Camera
	copy(msg.Position[:], p.Position)
	copy(msg.Target[:], p.Target)
	copy(msg.Up[:], p.Up)
	copy(msg.Direction[:], p.Direction)
	msg.FovY = s.cam.FovY
	msg.Near = s.cam.Near
	msg.Far = s.cam.Far
	s.send(packets.CameraState, msg)
}

func (s *Session) sendAnnotations() {
	preview := s.store.Preview(s.filter)
	if preview == nil {
		preview = []annotation.Entry{}
	}
	s.send(packets.AnnotationList, packets.Annotations{
		Filter:        s.filter,
		QuestionTypes: s.store.QuestionTypes(),
		Total:         s.store.Len(),
		Matches:       len(s.store.List(s.filter)),
		Preview:       preview,
	})
}

// HighlightURL returns the GLB export path for ids of mesh. The path keeps
// the directory of the mesh: scans/hall.ply exports as
// /api/highlight/scans/hall.glb.
func HighlightURL(mesh string, ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	stem := strings.TrimSuffix(mesh, path.Ext(mesh))
	return "/api/highlight/" + resources.URLPath(stem+".glb") + "?ids=" + strings.Join(parts, ",")
}

func int64s(ids []instance.ID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
