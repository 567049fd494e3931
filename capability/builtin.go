//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

package capability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-flow-go/flow"
)

// Builtin capability output names.
const (
	// TemplateOutput carries a template capability's rendered text.
	TemplateOutput = "text"
	// HTTPBodyOutput carries an http capability's response body.
	HTTPBodyOutput = "body"
	// HTTPStatusOutput carries an http capability's status code.
	HTTPStatusOutput = "status"
)

var inputRefPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_\-]*)\s*\}\}`)

// NewTemplateCapability renders the `template` parameter: bare `{{ name }}`
// references substitute the node's inputs, `nodes.*` references resolve
// through the state pool.
func NewTemplateCapability(params map[string]any) (flow.Capability, error) {
	text, ok := params["template"].(string)
	if !ok {
		return nil, fmt.Errorf("template capability requires a string %q parameter", "template")
	}
	return flow.CapabilityFunc(func(ctx context.Context, inv *flow.Invocation) (map[string]flow.Value, error) {
		rendered := inputRefPattern.ReplaceAllStringFunc(text, func(match string) string {
			name := inputRefPattern.FindStringSubmatch(match)[1]
			if v, ok := inv.Inputs[name]; ok {
				return v.Text()
			}
			return match
		})
		if strings.Contains(rendered, "{{") && inv.State != nil {
			resolved, err := inv.State.ResolveTemplate(rendered)
			if err != nil {
				return nil, err
			}
			rendered = resolved
		}
		return map[string]flow.Value{TemplateOutput: flow.InlineValue(rendered)}, nil
	}), nil
}

// NewHTTPCapability performs one HTTP request per invocation. Parameters:
// `url` (required, template-resolved against inputs), `method` (default
// GET), `timeout` (Go duration string, default 30s). The response body is
// returned inline as a string output.
func NewHTTPCapability(params map[string]any) (flow.Capability, error) {
	rawURL, ok := params["url"].(string)
	if !ok {
		return nil, fmt.Errorf("http capability requires a string %q parameter", "url")
	}
	method := http.MethodGet
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	timeout := 30 * time.Second
	if raw, ok := params["timeout"].(string); ok {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("http capability: bad timeout %q: %w", raw, err)
		}
		timeout = d
	}
	client := &http.Client{Timeout: timeout}
	return flow.CapabilityFunc(func(ctx context.Context, inv *flow.Invocation) (map[string]flow.Value, error) {
		url := inputRefPattern.ReplaceAllStringFunc(rawURL, func(match string) string {
			name := inputRefPattern.FindStringSubmatch(match)[1]
			if v, ok := inv.Inputs[name]; ok {
				return v.Text()
			}
			return match
		})
		var body io.Reader
		if v, ok := inv.Inputs["body"]; ok {
			body = strings.NewReader(v.Text())
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return map[string]flow.Value{
			HTTPBodyOutput:   flow.InlineValue(string(data)),
			HTTPStatusOutput: flow.InlineValue(resp.StatusCode),
		}, nil
	}), nil
}
