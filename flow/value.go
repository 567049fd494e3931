//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package flow provides graph-based workflow execution: a validated node
// graph is driven to completion against a shared state pool, with
// conditional, map and while control flow and per-node checkpointing.
package flow

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind discriminates the payload carried by a Value.
type ValueKind int

// Value kinds.
const (
	// KindInline is directly embedded JSON-compatible data.
	KindInline ValueKind = iota
	// KindFile is a reference to a file on the local filesystem.
	KindFile
	// KindURL is a reference to a remote resource.
	KindURL
)

// Value is the unified data wrapper for everything passed between nodes.
// Small structured data travels inline; large or binary data travels by
// reference (file path or URL) so it is never loaded into the state pool.
type Value struct {
	kind     ValueKind
	data     any
	path     string
	url      string
	mimeType string
}

// InlineValue wraps JSON-compatible data (string, number, bool, slice, map).
func InlineValue(data any) Value {
	return Value{kind: KindInline, data: data}
}

// FileValue references a file on disk. mimeType may be empty.
func FileValue(path, mimeType string) Value {
	return Value{kind: KindFile, path: path, mimeType: mimeType}
}

// URLValue references a remote resource. mimeType may be empty.
func URLValue(url, mimeType string) Value {
	return Value{kind: KindURL, url: url, mimeType: mimeType}
}

// Kind returns the value kind.
func (v Value) Kind() ValueKind { return v.kind }

// Data returns the inline payload. It is nil for reference values.
func (v Value) Data() any { return v.data }

// Path returns the file path for KindFile values.
func (v Value) Path() string { return v.path }

// URL returns the address for KindURL values.
func (v Value) URL() string { return v.url }

// MimeType returns the optional media type of a reference value.
func (v Value) MimeType() string { return v.mimeType }

// Text renders the value for template substitution: strings verbatim,
// numbers and booleans in their JSON form, references as their path or URL,
// everything else as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindFile:
		return v.path
	case KindURL:
		return v.url
	}
	switch d := v.data.(type) {
	case string:
		return d
	case bool:
		return strconv.FormatBool(d)
	case int:
		return strconv.Itoa(d)
	case int64:
		return strconv.FormatInt(d, 10)
	case float64:
		return strconv.FormatFloat(d, 'f', -1, 64)
	case json.Number:
		return d.String()
	case nil:
		return ""
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprintf("%v", d)
		}
		return string(b)
	}
}

// Truthy applies the engine-wide condition rule: the empty string, "false"
// and "0" are false, everything else is true.
func (v Value) Truthy() bool {
	return truthy(v.Text())
}

// persistentValue is the tagged wire form for reference values. Inline
// values serialize transparently as themselves.
type persistentValue struct {
	Type     string `json:"type"`
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

const (
	valueTypeFile = "file"
	valueTypeURL  = "url"
)

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindFile:
		return json.Marshal(persistentValue{Type: valueTypeFile, Path: v.path, MimeType: v.mimeType})
	case KindURL:
		return json.Marshal(persistentValue{Type: valueTypeURL, URL: v.url, MimeType: v.mimeType})
	default:
		return json.Marshal(v.data)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Objects carrying the reference
// tag decode as references; everything else decodes inline.
func (v *Value) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if rawType, ok := probe["type"]; ok {
			var typeTag string
			if err := json.Unmarshal(rawType, &typeTag); err == nil &&
				(typeTag == valueTypeFile || typeTag == valueTypeURL) {
				var pv persistentValue
				if err := json.Unmarshal(data, &pv); err != nil {
					return err
				}
				if typeTag == valueTypeFile {
					*v = FileValue(pv.Path, pv.MimeType)
				} else {
					*v = URLValue(pv.URL, pv.MimeType)
				}
				return nil
			}
		}
	}
	var inline any
	if err := json.Unmarshal(data, &inline); err != nil {
		return err
	}
	*v = InlineValue(inline)
	return nil
}

// truthy is the shared condition rule for gates and while conditions.
func truthy(s string) bool {
	switch s {
	case "", "false", "False", "FALSE", "0":
		return false
	}
	return true
}
