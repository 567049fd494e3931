//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package flow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueText(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{name: "string", v: InlineValue("hello"), want: "hello"},
		{name: "int", v: InlineValue(42), want: "42"},
		{name: "float", v: InlineValue(2.5), want: "2.5"},
		{name: "bool", v: InlineValue(true), want: "true"},
		{name: "nil", v: InlineValue(nil), want: ""},
		{name: "list", v: InlineValue([]any{1, 2}), want: "[1,2]"},
		{name: "file", v: FileValue("/tmp/report.pdf", "application/pdf"), want: "/tmp/report.pdf"},
		{name: "url", v: URLValue("https://example.com/a", ""), want: "https://example.com/a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.Text())
		})
	}
}

func TestValueTruthy(t *testing.T) {
	assert.False(t, InlineValue("").Truthy())
	assert.False(t, InlineValue("false").Truthy())
	assert.False(t, InlineValue("0").Truthy())
	assert.False(t, InlineValue(false).Truthy())
	assert.False(t, InlineValue(0).Truthy())
	assert.False(t, InlineValue(nil).Truthy())

	assert.True(t, InlineValue("yes").Truthy())
	assert.True(t, InlineValue(1).Truthy())
	assert.True(t, InlineValue("no").Truthy())
	assert.True(t, FileValue("/tmp/x", "").Truthy())
}

func TestValueJSONRoundTrip(t *testing.T) {
	t.Run("inline is transparent", func(t *testing.T) {
		data, err := json.Marshal(InlineValue(map[string]any{"n": 3.0}))
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":3}`, string(data))

		var v Value
		require.NoError(t, json.Unmarshal(data, &v))
		assert.Equal(t, KindInline, v.Kind())
		assert.Equal(t, map[string]any{"n": 3.0}, v.Data())
	})

	t.Run("file reference is tagged", func(t *testing.T) {
		data, err := json.Marshal(FileValue("/data/out.bin", "application/octet-stream"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"file","path":"/data/out.bin","mime_type":"application/octet-stream"}`, string(data))

		var v Value
		require.NoError(t, json.Unmarshal(data, &v))
		assert.Equal(t, KindFile, v.Kind())
		assert.Equal(t, "/data/out.bin", v.Path())
		assert.Equal(t, "application/octet-stream", v.MimeType())
	})

	t.Run("url reference is tagged", func(t *testing.T) {
		data, err := json.Marshal(URLValue("https://example.com/r", "text/html"))
		require.NoError(t, err)

		var v Value
		require.NoError(t, json.Unmarshal(data, &v))
		assert.Equal(t, KindURL, v.Kind())
		assert.Equal(t, "https://example.com/r", v.URL())
	})

	t.Run("untagged object stays inline", func(t *testing.T) {
		var v Value
		require.NoError(t, json.Unmarshal([]byte(`{"type":"other","x":1}`), &v))
		assert.Equal(t, KindInline, v.Kind())
	})
}
