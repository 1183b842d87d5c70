package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	// ParamsKey replaces the whole body with a JSON document.
	ParamsKey = "params"
	// ParamsFileKey reads the body from a file.
	ParamsFileKey = "params_file"
)

// Run describes one script invocation.
type Run struct {
	Script      string
	Interactive bool
	Params      *Params
}

// ParseRun parses `<script> [key=value ...]`.
func ParseRun(tokens []string, interactive bool) (Run, error) {
	if len(tokens) == 0 {
		return Run{}, fmt.Errorf("usage: run <script> [key=value ...] [params='<json>']")
	}
	script := tokens[0]
	if script == "" || strings.Contains(script, "/") {
		return Run{}, fmt.Errorf("invalid script name: %q", script)
	}
	params, err := ParseAssignments(tokens[1:])
	if err != nil {
		return Run{}, err
	}
	return Run{Script: script, Interactive: interactive, Params: params}, nil
}

// BuildRequest turns a run into the POST the dispatcher expects.
func BuildRequest(run Run) (RequestSpec, error) {
	body, err := buildBody(run.Params)
	if err != nil {
		return RequestSpec{}, err
	}
	path := "/scripts/" + url.PathEscape(run.Script)
	if run.Interactive {
		path += "?interactive=true"
	}
	return RequestSpec{
		Method:  http.MethodPost,
		Path:    path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}, nil
}

func buildBody(params *Params) ([]byte, error) {
	if params == nil {
		params = NewParams()
	}
	var base json.RawMessage
	switch {
	case params.Has(ParamsKey) && params.Has(ParamsFileKey):
		return nil, fmt.Errorf("use either %s or %s", ParamsKey, ParamsFileKey)
	case params.Has(ParamsFileKey):
		data, err := ReadFile(params.Get(ParamsFileKey))
		if err != nil {
			return nil, err
		}
		if base, err = ParseJSON(data); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", ParamsFileKey, err)
		}
	case params.Has(ParamsKey):
		raw, err := ParseJSON(params.Get(ParamsKey))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", ParamsKey, err)
		}
		base = raw
	}

	fields := make([]string, 0, params.Len())
	for _, key := range params.Keys() {
		if key != ParamsKey && key != ParamsFileKey {
			fields = append(fields, key)
		}
	}

	if base == nil {
		base = json.RawMessage("{}")
	}
	if len(fields) == 0 {
		return compact(base)
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(base, &object); err != nil || object == nil {
		return nil, fmt.Errorf("key=value params need a JSON object body")
	}
	for _, key := range fields {
		object[key] = ParseValue(params.Get(key))
	}
	return json.Marshal(object)
}

func compact(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, fmt.Errorf("params must be a JSON object or array")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
