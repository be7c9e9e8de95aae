package annotation

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/camera"
	"github.com/Faultbox/scenetag/internal/errs"
	"github.com/Faultbox/scenetag/internal/instance"
	"github.com/Faultbox/scenetag/internal/logger"
)

// DefaultPreviewLimit is the number of matches shown in a preview listing.
const DefaultPreviewLimit = 3

// AllQuestions matches every annotation when used as a filter.
const AllQuestions = "all"

// Entry is an annotation paired with its position in the store.
type Entry struct {
	Index      int        `json:"index"`
	Annotation Annotation `json:"annotation"`
}

// Store is the ordered list of annotations for the active mesh. Insertion
// order is display order. A Store is not safe for concurrent use; the viewer
// session owns it.
type Store struct {
	list         []Annotation
	previewLimit int
	log          *zap.Logger
}

// NewStore creates an empty store. previewLimit <= 0 selects
// DefaultPreviewLimit.
func NewStore(previewLimit int) *Store {
	if previewLimit <= 0 {
		previewLimit = DefaultPreviewLimit
	}
	return &Store{
		previewLimit: previewLimit,
		log:          logger.Named("annotation"),
	}
}

// Add records a new annotation of ids seen from params. It fails with
// errs.ErrValidation, leaving the store untouched, when ids is empty or the
// trimmed description is blank.
func (s *Store) Add(description string, ids []instance.ID, params camera.Params) (Annotation, error) {
	description = strings.TrimSpace(description)
	if len(ids) == 0 {
		return Annotation{}, fmt.Errorf("%w: select at least one object", errs.ErrValidation)
	}
	if description == "" {
		return Annotation{}, fmt.Errorf("%w: description is empty", errs.ErrValidation)
	}

	objectIDs := make(IDList, len(ids))
	for i, id := range ids {
		objectIDs[i] = int64(id)
	}

	a := Annotation{
		Description:  description,
		ObjectIDs:    objectIDs,
		FullText:     FullTextFor(description, ids),
		CameraParams: &params,
	}
	stored, err := clone(a)
	if err != nil {
		return Annotation{}, err
	}
	s.list = append(s.list, stored)

	s.log.Debug("annotation added",
		zap.Int("index", len(s.list)-1),
		zap.Int("objects", len(ids)))
	return clone(stored)
}

// Len returns the number of annotations.
func (s *Store) Len() int {
	return len(s.list)
}

// Get returns a copy of annotation i.
func (s *Store) Get(i int) (Annotation, bool) {
	if i < 0 || i >= len(s.list) {
		return Annotation{}, false
	}
	a, err := clone(s.list[i])
	if err != nil {
		s.log.Warn("copying annotation", zap.Int("index", i), zap.Error(err))
		return Annotation{}, false
	}
	return a, true
}

// List returns every annotation matching filter, in store order. An empty
// filter or AllQuestions matches everything.
func (s *Store) List(filter string) []Entry {
	var out []Entry
	for i := range s.list {
		if !matches(&s.list[i], filter) {
			continue
		}
		a, err := clone(s.list[i])
		if err != nil {
			s.log.Warn("copying annotation", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, Entry{Index: i, Annotation: a})
	}
	return out
}

// Preview returns the first matches of filter, at most the preview limit.
// The full list stays in the store.
func (s *Store) Preview(filter string) []Entry {
	all := s.List(filter)
	if len(all) > s.previewLimit {
		all = all[:s.previewLimit]
	}
	return all
}

// QuestionTypes returns the distinct non-empty question types in the order
// they first appear.
func (s *Store) QuestionTypes() []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range s.list {
		if a.QuestionType == "" || seen[a.QuestionType] {
			continue
		}
		seen[a.QuestionType] = true
		out = append(out, a.QuestionType)
	}
	return out
}

// DeleteAt removes annotation i and shifts the later ones down. An
// out-of-range index is a no-op and reports false.
func (s *Store) DeleteAt(i int) bool {
	if i < 0 || i >= len(s.list) {
		return false
	}
	s.list = append(s.list[:i], s.list[i+1:]...)
	s.log.Debug("annotation deleted", zap.Int("index", i), zap.Int("remaining", len(s.list)))
	return true
}

// Reset replaces the whole list, as when a new mesh is loaded.
func (s *Store) Reset(list []Annotation) {
	s.list = make([]Annotation, 0, len(list))
	for i := range list {
		a, err := clone(list[i])
		if err != nil {
			s.log.Warn("dropping annotation", zap.Int("index", i), zap.Error(err))
			continue
		}
		s.list = append(s.list, a)
	}
}

// Snapshot returns a copy of the full list.
func (s *Store) Snapshot() []Annotation {
	out := make([]Annotation, 0, len(s.list))
	for i := range s.list {
		if a, err := clone(s.list[i]); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// Persist sends the full list for mesh to backend. On failure the in-memory
// list is unchanged and the error wraps errs.ErrPersistence.
func (s *Store) Persist(ctx context.Context, backend Backend, mesh string) (Result, error) {
	return Save(ctx, backend, mesh, s.Snapshot())
}

// Save submits list for mesh and checks the reply status.
func Save(ctx context.Context, backend Backend, mesh string, list []Annotation) (Result, error) {
	res, err := backend.Submit(ctx, mesh, list)
	if err != nil {
		return res, fmt.Errorf("%w: saving annotations for %s: %v", errs.ErrPersistence, mesh, err)
	}
	if !res.OK() {
		return res, fmt.Errorf("%w: saving annotations for %s: %s", errs.ErrPersistence, mesh, res.Message)
	}
	return res, nil
}

func matches(a *Annotation, filter string) bool {
	return filter == "" || filter == AllQuestions || a.QuestionType == filter
}

// clone returns a deep copy of a so callers never share slices with the store.
func clone(a Annotation) (Annotation, error) {
	var out Annotation
	if err := copier.CopyWithOption(&out, &a, copier.Option{DeepCopy: true}); err != nil {
		return Annotation{}, fmt.Errorf("copying annotation: %w", err)
	}
	return out, nil
}
