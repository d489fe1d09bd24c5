package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VersionMarkerField is the payload key carrying the record version the
// proposer last saw. It is compared against the current version on update
// and never written to the record.
const VersionMarkerField = "last_known_version"

// Record is a row of a target collection. Beyond the tenancy fields the
// engine assumes no schema: domain data lives in Fields.
type Record struct {
	Collection     string         `json:"collection"`
	ID             string         `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	ProjectID      uuid.UUID      `json:"project_id"`
	Fields         map[string]any `json:"fields"`
	Version        int64          `json:"version"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Snapshot captures the record as a pre-image for undo.
func (r *Record) Snapshot() *RecordSnapshot {
	if r == nil {
		return nil
	}
	return &RecordSnapshot{
		ID:      r.ID,
		Fields:  CloneFields(r.Fields),
		Version: r.Version,
	}
}

// Scope returns the record's tenancy scope.
func (r *Record) Scope() Scope {
	return Scope{OrganizationID: r.OrganizationID, ProjectID: r.ProjectID}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = CloneFields(r.Fields)
	return &c
}

// RecordSnapshot is the full pre-image of a target record.
type RecordSnapshot struct {
	ID      string         `json:"id"`
	Fields  map[string]any `json:"fields"`
	Version int64          `json:"version"`
}

// Clone returns a deep copy of the snapshot.
func (s *RecordSnapshot) Clone() *RecordSnapshot {
	if s == nil {
		return nil
	}
	return &RecordSnapshot{ID: s.ID, Fields: CloneFields(s.Fields), Version: s.Version}
}

// SplitVersionMarker returns payload without the version marker, and the
// marker value if one was present.
func SplitVersionMarker(payload map[string]any) (map[string]any, *int64, error) {
	fields := CloneFields(payload)
	raw, ok := fields[VersionMarkerField]
	if !ok {
		return fields, nil, nil
	}
	delete(fields, VersionMarkerField)
	if raw == nil {
		return fields, nil, nil
	}
	v, err := parseVersion(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid %s: %w", VersionMarkerField, err)
	}
	return fields, &v, nil
}

func parseVersion(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("version %v is not an integer", v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("unsupported version type %T", raw)
	}
}

// MergeFields overlays patch onto base and returns the result. Neither
// input is modified.
func MergeFields(base, patch map[string]any) map[string]any {
	out := CloneFields(base)
	if out == nil {
		out = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// DiffFields reports the fields of patch whose value differs from base.
func DiffFields(base, patch map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for k, newVal := range patch {
		oldVal, ok := base[k]
		if ok && jsonEqual(oldVal, newVal) {
			continue
		}
		changes[k] = FieldChange{Old: oldVal, New: newVal}
	}
	return changes
}

// CloneFields deep-copies a field map of JSON-shaped values.
func CloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
