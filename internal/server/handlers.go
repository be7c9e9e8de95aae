package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/scenetag/internal/annotation"
	"github.com/Faultbox/scenetag/internal/errs"
	"github.com/Faultbox/scenetag/internal/highlight"
	"github.com/Faultbox/scenetag/internal/instance"
	"github.com/Faultbox/scenetag/internal/network"
	"github.com/Faultbox/scenetag/internal/network/packets"
	"github.com/Faultbox/scenetag/internal/resources"
	"github.com/Faultbox/scenetag/internal/selection"
	"github.com/Faultbox/scenetag/internal/session"
)

const maxSaveBody = 8 << 20

// Model describes one mesh in the models directory.
type Model struct {
	Name        string `json:"name"`
	Mask        bool   `json:"mask"`
	Annotations bool   `json:"annotations"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.SessionCount(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	names, err := s.resources.List(s.cfg.Data.MeshExt)
	if err != nil {
		s.fail(w, err)
		return
	}
	models := make([]Model, 0, len(names))
	for _, name := range names {
		models = append(models, Model{
			Name:        name,
			Mask:        s.resources.Exists(resources.MaskName(name, s.cfg.Data.MaskExt)),
			Annotations: s.resources.Exists(resources.AnnotationName(name)),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.resources.Load(name)
	if err != nil {
		s.fail(w, err)
		return
	}
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

// handleSave replaces the stored annotation list of a mesh.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var list []annotation.Annotation
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSaveBody))
	if err := dec.Decode(&list); err != nil {
		writeJSON(w, http.StatusBadRequest, annotation.Result{
			Status:  "error",
			Message: fmt.Sprintf("invalid annotation list: %v", err),
		})
		return
	}

	res, err := s.backend.Submit(r.Context(), name, list)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !res.OK() {
		s.log.Warn("saving annotations failed", zap.String("mesh", name), zap.String("message", res.Message))
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	s.log.Info("annotations saved", zap.String("mesh", name), zap.Int("count", len(list)))
	writeJSON(w, http.StatusOK, res)
}

// handleAnnotations returns the stored list of a mesh.
func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	payload, err := s.store.Load(r.Context(), r.PathValue("name"))
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

// handleHighlight exports the overlay of the ids in the query as GLB.
// The file is the mesh name with a .glb extension: /api/highlight/scans/hall.glb.
func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	base, ok := strings.CutSuffix(name, ".glb")
	if !ok || base == "" || strings.HasSuffix(base, "/") {
		s.fail(w, fmt.Errorf("%w: %q is not a .glb name", errs.ErrValidation, name))
		return
	}
	ids, err := ParseIDs(r.URL.Query().Get("ids"))
	if err != nil {
		s.fail(w, err)
		return
	}

	opts := SessionOptions(s.cfg).Scene
	scene, err := s.resources.LoadScene(r.Context(), base+s.cfg.Data.MeshExt, opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	h := highlight.Rebuild(scene.Mesh, scene.Index, selection.New(ids...))
	if h.TriangleCount() == 0 {
		s.fail(w, fmt.Errorf("%w: nothing to highlight", errs.ErrResourceNotFound))
		return
	}

	var buf bytes.Buffer
	if err := h.WriteGLB(&buf); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "model/gltf-binary")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

// handleWebSocket runs one viewer session for the lifetime of the
// connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := network.New(conn)
	sess := session.New(SessionOptions(s.cfg), s.resources, s.backend, client)

	if !s.track(sess) {
		client.Disconnect()
		return
	}
	defer s.untrack(sess)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = sess.Run(ctx)
	}()

	err = client.Process(ctx, func(msg packets.Inbound) error {
		return sess.Post(ctx, msg)
	})
	if err != nil {
		s.log.Debug("connection closed", zap.String("session", sess.ID()), zap.Error(err))
	}
	cancel()
	<-stopped
	client.Disconnect()
}

func (s *Server) track(sess *session.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	s.sessions[sess.ID()] = sess
	s.log.Info("viewer connected", zap.String("session", sess.ID()), zap.Int("sessions", len(s.sessions)))
	return true
}

func (s *Server) untrack(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	n := len(s.sessions)
	s.mu.Unlock()
	s.log.Info("viewer disconnected", zap.String("session", sess.ID()), zap.Int("sessions", n))
	s.wg.Done()
}

// ParseIDs parses a comma separated id list. Empty input yields no ids.
func ParseIDs(raw string) ([]instance.ID, error) {
	var ids []instance.ID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad instance id %q", errs.ErrValidation, part)
		}
		ids = append(ids, instance.ID(v))
	}
	return ids, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, annotation.Result{Status: "error", Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrDecode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
