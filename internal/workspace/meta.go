package workspace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ObjectMeta is the part of a workspace object's metadata the uploader uses.
type ObjectMeta struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Path          string `json:"path"`
	CreationTime  string `json:"creationTime,omitempty"`
	ID            string `json:"id,omitempty"`
	Owner         string `json:"owner,omitempty"`
	Size          int64  `json:"size,omitempty"`
	LinkReference string `json:"linkReference,omitempty"`
}

// metaShape is one of the encodings the service uses for object metadata.
type metaShape interface {
	objectMeta() (*ObjectMeta, error)
}

// positionalMeta is the tuple form:
// [name, type, parent, created, id, owner, size, userMeta, autoMeta,
// userPerm, globalPerm, linkReference].
type positionalMeta []json.RawMessage

const (
	posName = iota
	posType
	posParent
	posCreated
	posID
	posOwner
	posSize
	posUserMeta
	posAutoMeta
	posUserPerm
	posGlobalPerm
	posLinkReference
	positionalLen
)

func (p positionalMeta) objectMeta() (*ObjectMeta, error) {
	if len(p) < positionalLen {
		return nil, fmt.Errorf("metadata tuple has %d fields, want %d", len(p), positionalLen)
	}
	m := &ObjectMeta{
		Name:          scalar(p[posName]),
		Type:          scalar(p[posType]),
		CreationTime:  scalar(p[posCreated]),
		ID:            scalar(p[posID]),
		Owner:         scalar(p[posOwner]),
		LinkReference: scalar(p[posLinkReference]),
	}
	m.Path = scalar(p[posParent]) + m.Name
	m.Size, _ = strconv.ParseInt(scalar(p[posSize]), 10, 64)
	return m, nil
}

// keyedMeta is the object form with named fields.
type keyedMeta map[string]json.RawMessage

func (k keyedMeta) objectMeta() (*ObjectMeta, error) {
	m := &ObjectMeta{
		Name:          scalar(k["name"]),
		Type:          scalar(k["type"]),
		Path:          scalar(k["path"]),
		CreationTime:  scalar(k["creation_time"]),
		ID:            scalar(k["id"]),
		Owner:         scalar(k["owner_id"]),
		LinkReference: scalar(k["link_reference"]),
	}
	if m.LinkReference == "" {
		m.LinkReference = scalar(k["upload_url"])
	}
	if m.Path == "" {
		m.Path = scalar(k["parent"]) + m.Name
	}
	m.Size, _ = strconv.ParseInt(scalar(k["size"]), 10, 64)
	return m, nil
}

var errNoMeta = errors.New("no object metadata in response")

// decodeMeta finds the first object's metadata in a Workspace.create
// result. The result nests the metadata in one or more list levels,
// e.g. [[meta]] for a single created object.
func decodeMeta(raw json.RawMessage) (metaShape, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errNoMeta
	}
	switch raw[0] {
	case '{':
		var k keyedMeta
		if err := json.Unmarshal(raw, &k); err != nil {
			return nil, fmt.Errorf("decoding metadata object: %w", err)
		}
		return k, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decoding metadata list: %w", err)
		}
		if len(items) == 0 {
			return nil, errNoMeta
		}
		first := bytes.TrimSpace(items[0])
		if len(first) > 0 && (first[0] == '[' || first[0] == '{') {
			return decodeMeta(first)
		}
		return positionalMeta(items), nil
	default:
		return nil, errNoMeta
	}
}

// scalar renders a JSON string or number as a string; anything else is "".
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
