package scene

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

var (
	ErrMissingID      = errors.New("element has no id")
	ErrMissingVersion = errors.New("element has no version")
	ErrNegativeVer    = errors.New("element version is negative")
)

// Element is a single scene unit. Only ID and Version are interpreted by the
// sync core; every other JSON field is kept as-is in Fields and written back
// unchanged when the element is encoded.
type Element struct {
	ID      string
	Version int64
	Fields  map[string]json.RawMessage
}

func NewElement(id string, version int64) Element {
	return Element{ID: id, Version: version}
}

// WithField returns a copy of e carrying an extra opaque field.
func (e Element) WithField(key string, value json.RawMessage) Element {
	fields := make(map[string]json.RawMessage, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

func (e Element) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(e.Fields)+2)
	for k, v := range e.Fields {
		if k == "id" || k == "version" {
			continue
		}
		out[k] = v
	}
	id, err := json.Marshal(e.ID)
	if err != nil {
		return nil, err
	}
	out["id"] = id
	out["version"] = json.RawMessage(strconv.FormatInt(e.Version, 10))
	return json.Marshal(out)
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode element")
	}
	idRaw, ok := raw["id"]
	if !ok {
		return ErrMissingID
	}
	var id string
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return errors.Wrap(err, "decode element id")
	}
	if id == "" {
		return ErrMissingID
	}
	verRaw, ok := raw["version"]
	if !ok || bytes.Equal(bytes.TrimSpace(verRaw), []byte("null")) {
		return errors.Wrapf(ErrMissingVersion, "element %s", id)
	}
	var version int64
	if err := json.Unmarshal(verRaw, &version); err != nil {
		return errors.Wrapf(err, "decode version of element %s", id)
	}
	if version < 0 {
		return errors.Wrapf(ErrNegativeVer, "element %s", id)
	}
	delete(raw, "id")
	delete(raw, "version")
	if len(raw) == 0 {
		raw = nil
	}
	e.ID = id
	e.Version = version
	e.Fields = raw
	return nil
}

// Versions maps every element id to its version. Later duplicates win.
func Versions(elements []Element) map[string]int64 {
	out := make(map[string]int64, len(elements))
	for _, el := range elements {
		out[el.ID] = el.Version
	}
	return out
}

// Clone copies the slice; the opaque field maps are shared since they are never mutated.
func Clone(elements []Element) []Element {
	if elements == nil {
		return nil
	}
	return append([]Element(nil), elements...)
}
