// Package session runs one viewer: the active mesh, its instance index, the
// selection, the highlight, the camera and the annotation store.
//
// All state is owned by the goroutine running Run. Inbound messages,
// completed background loads and control ticks are processed one at a time,
// so a highlight rebuild always sees the selection it was triggered by.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/annotation"
	"github.com/Faultbox/scenetag/internal/camera"
	"github.com/Faultbox/scenetag/internal/highlight"
	"github.com/Faultbox/scenetag/internal/instance"
	"github.com/Faultbox/scenetag/internal/logger"
	"github.com/Faultbox/scenetag/internal/mesh"
	"github.com/Faultbox/scenetag/internal/network/packets"
	"github.com/Faultbox/scenetag/internal/picking"
	"github.com/Faultbox/scenetag/internal/resources"
	"github.com/Faultbox/scenetag/internal/selection"
)

// ErrClosed is returned when posting to a session that has stopped.
var ErrClosed = errors.New("session closed")

// Notice lifetimes.
const (
	SuccessTTL = 2 * time.Second
	FailureTTL = 3 * time.Second
)

// Source loads a mesh and its instance mask.
type Source interface {
	LoadScene(ctx context.Context, name string, opts resources.SceneOptions) (*resources.Scene, error)
}

// Sink receives outbound messages. Send is called from the session
// goroutine only.
type Sink interface {
	Send(msg packets.Outbound) error
}

// Options configures a session.
type Options struct {
	Width, Height int
	FovY          float32
	Near, Far     float32
	DampingFactor float64
	TickRate      int

	Scene        resources.SceneOptions
	PreviewLimit int
	NameFragment string
	Collections  []annotation.Collection
}

// DefaultOptions returns the viewer defaults.
func DefaultOptions() Options {
	return Options{
		Width:         1280,
		Height:        720,
		FovY:          75,
		Near:          0.1,
		Far:           1000,
		DampingFactor: 0.25,
		TickRate:      30,
		Scene:         resources.SceneOptions{MaskExt: ".npy"},
		PreviewLimit:  annotation.DefaultPreviewLimit,
		NameFragment:  annotation.DefaultFragment,
	}
}

// State is a read-only summary of a session.
type State struct {
	ID          string
	Mesh        string
	Vertices    int
	Instances   bool
	Selection   []instance.ID
	Highlighted int // Highlight triangles
	Annotations int
	Filter      string
	Camera      camera.Params
}

// Session is one viewer.
type Session struct {
	id      string
	opts    Options
	source  Source
	backend annotation.Backend
	sink    Sink
	log     *zap.Logger

	inbox       chan packets.Inbound
	completions chan completion
	queries     chan chan State
	done        chan struct{}
	ctx         context.Context
	workers     sync.WaitGroup

	// Loop-owned state
	name       string
	mesh       *mesh.Mesh
	index      *instance.Index
	grid       bool
	sel        *selection.Set
	highlight  *highlight.Mesh
	cam        *camera.Perspective
	controls   *camera.OrbitControls
	picker     *picking.Picker
	store      *annotation.Store
	filter     string
	generation uint64
	saving     map[string]bool    // Meshes with a save in flight
	pending    map[string]saveJob // Latest queued save per mesh
	lastTick   time.Time
}

// New creates a session. Run must be called to start it.
func New(opts Options, source Source, backend annotation.Backend, sink Sink) *Session {
	id := uuid.NewString()
	cam := camera.NewPerspective(opts.FovY, opts.Near, opts.Far, opts.Width, opts.Height)
	return &Session{
		id:          id,
		opts:        opts,
		source:      source,
		backend:     backend,
		sink:        sink,
		log:         logger.Named("session").With(zap.String("session", id)),
		inbox:       make(chan packets.Inbound, 64),
		completions: make(chan completion, 16),
		queries:     make(chan chan State),
		done:        make(chan struct{}),
		sel:         selection.New(),
		cam:         cam,
		controls:    camera.NewOrbitControls(cam, opts.DampingFactor, opts.TickRate),
		picker:      picking.NewPicker(),
		store:       annotation.NewStore(opts.PreviewLimit),
		filter:      annotation.AllQuestions,
		saving:      make(map[string]bool),
		pending:     make(map[string]saveJob),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Post queues an inbound message. It blocks while the inbox is full and
// fails with ErrClosed once the session has stopped.
func (s *Session) Post(ctx context.Context, msg packets.Inbound) error {
	select {
	case s.inbox <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a summary of the session as seen by its goroutine.
func (s *Session) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case s.queries <- reply:
	case <-s.done:
		return State{}, ErrClosed
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Run processes events until ctx ends. Background loads still in flight are
// abandoned; their results are dropped.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	defer func() {
		cancel()
		close(s.done)
		s.workers.Wait()
	}()

	ticker := time.NewTicker(s.controls.TickInterval())
	defer ticker.Stop()
	s.lastTick = time.Now()

	s.log.Info("session started")
	s.sendCamera()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("session stopped")
			return ctx.Err()
		case msg := <-s.inbox:
			s.handle(msg)
		case c := <-s.completions:
			c.apply(s)
		case reply := <-s.queries:
			reply <- s.state()
		case now := <-ticker.C:
			s.tick(now.Sub(s.lastTick))
			s.lastTick = now
		}
	}
}

// tick advances the camera controls and pushes the pose when it changed.
func (s *Session) tick(dt time.Duration) {
	if !s.controls.Moving() {
		return
	}
	if s.controls.Update(dt) {
		s.sendCamera()
	}
}

// completion is the result of background work, applied on the session
// goroutine.
type completion interface {
	apply(s *Session)
}

// spawn runs work in the background and posts its completion back.
func (s *Session) spawn(work func(ctx context.Context) completion) {
	ctx := s.ctx
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		c := work(ctx)
		if c == nil {
			return
		}
		select {
		case s.completions <- c:
		case <-s.done:
		}
	}()
}

func (s *Session) state() State {
	st := State{
		ID:          s.id,
		Mesh:        s.name,
		Instances:   s.index != nil,
		Selection:   s.sel.IDs(),
		Highlighted: s.highlight.TriangleCount(),
		Annotations: s.store.Len(),
		Filter:      s.filter,
		Camera:      camera.Capture(s.cam, s.controls, ""),
	}
	if s.mesh != nil {
		st.Vertices = s.mesh.VertexCount()
	}
	return st
}
