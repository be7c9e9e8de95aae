// Package annotation holds the per-mesh annotation records, their store and
// the clients that load and persist them.
package annotation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Faultbox/scenetag/internal/camera"
	"github.com/Faultbox/scenetag/internal/instance"
)

// IDList is a list of instance ids. It also decodes a bare number as a list
// of one, as some loaded collections store object_id that way.
type IDList []int64

// UnmarshalJSON implements json.Unmarshaler.
func (l *IDList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] != '[' {
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*l = IDList{int64(n)}
		return nil
	}
	var nums []float64
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make(IDList, len(nums))
	for i, n := range nums {
		out[i] = int64(n)
	}
	*l = out
	return nil
}

// Instances converts the list to instance ids.
func (l IDList) Instances() []instance.ID {
	if len(l) == 0 {
		return nil
	}
	out := make([]instance.ID, len(l))
	for i, v := range l {
		out[i] = instance.ID(v)
	}
	return out
}

// NameList is a list of object names. A bare string decodes as a list of one.
type NameList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *NameList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = NameList{s}
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*l = names
	return nil
}

// Annotation is one description of a set of instances seen from a saved
// camera pose. Records created here fill the first four fields; loaded
// records may also carry the display fields and arbitrary extra keys, which
// are written back unchanged.
type Annotation struct {
	Description  string         `json:"description"`
	ObjectIDs    IDList         `json:"object_ids,omitempty"`
	FullText     string         `json:"full_text,omitempty"`
	CameraParams *camera.Params `json:"camera_params,omitempty"`

	QuestionType string   `json:"question_type,omitempty"`
	ObjectID     IDList   `json:"object_id,omitempty"`
	ObjectName   NameList `json:"object_name,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// known lists the JSON keys decoded into Annotation fields.
var known = map[string]bool{
	"description":   true,
	"object_ids":    true,
	"full_text":     true,
	"camera_params": true,
	"question_type": true,
	"object_id":     true,
	"object_name":   true,
}

// plain has the same fields as Annotation without its methods.
type plain Annotation

// UnmarshalJSON implements json.Unmarshaler. Unknown keys land in Extra.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, v := range all {
		if known[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	*a = Annotation(p)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Annotation) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(plain(a))
	if err != nil || len(a.Extra) == 0 {
		return data, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, v := range a.Extra {
		if _, ok := all[k]; !ok && !known[k] {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Targets returns the instances a view of the annotation selects: the loaded
// object_id list when present, otherwise object_ids.
func (a *Annotation) Targets() []instance.ID {
	if len(a.ObjectID) > 0 {
		return a.ObjectID.Instances()
	}
	return a.ObjectIDs.Instances()
}

// Answer formats the objects of the annotation as "Objects: name(id), ...".
// Ids without a matching name are shown as "object".
func (a *Annotation) Answer() string {
	ids := a.ObjectID
	if len(ids) == 0 {
		ids = a.ObjectIDs
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		name := "object"
		if i < len(a.ObjectName) && a.ObjectName[i] != "" {
			name = a.ObjectName[i]
		}
		parts[i] = fmt.Sprintf("%s(%d)", name, id)
	}
	return "Objects: " + strings.Join(parts, ", ")
}

// FullTextFor appends each id in brackets to description.
func FullTextFor(description string, ids []instance.ID) string {
	var b strings.Builder
	b.WriteString(description)
	for _, id := range ids {
		fmt.Fprintf(&b, " [%d]", id)
	}
	return b.String()
}
