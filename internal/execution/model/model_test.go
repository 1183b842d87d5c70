package model_test

import (
	"testing"

	"tenantrun/internal/execution/model"
)

func TestLayoutFor(t *testing.T) {
	layout := model.LayoutConfig{}.LayoutFor(model.Tenant{Name: "alice", Home: "/home/alice"})

	if layout.Root != "/home/alice/.tenantrun" {
		t.Fatalf("unexpected root: %s", layout.Root)
	}
	if layout.Venv != "/home/alice/.tenantrun/.venv" {
		t.Fatalf("unexpected venv: %s", layout.Venv)
	}
	if layout.Activate() != "/home/alice/.tenantrun/.venv/bin/activate" {
		t.Fatalf("unexpected activate: %s", layout.Activate())
	}
}

func TestScriptPath(t *testing.T) {
	layout := model.LayoutConfig{Entrypoint: "run.py"}.LayoutFor(model.Tenant{Home: "/home/alice"})

	cases := []struct {
		name   string
		script string
		want   string
		ok     bool
	}{
		{name: "plain", script: "double", want: "/home/alice/.tenantrun/double/run.py", ok: true},
		{name: "dashes", script: "build-report_v2", want: "/home/alice/.tenantrun/build-report_v2/run.py", ok: true},
		{name: "empty", script: ""},
		{name: "dot", script: "."},
		{name: "parent", script: ".."},
		{name: "nested", script: "a/b"},
		{name: "escape", script: "../bob"},
		{name: "hidden venv", script: ".venv"},
		{name: "backslash", script: `a\b`},
		{name: "nul", script: "a\x00b"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := layout.ScriptPath(tc.script)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("path = %q, want %q", got, tc.want)
			}
		})
	}
}
