package state_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tenantrun/internal/cli/state"
)

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")

	st, err := state.Load(path)
	if err != nil || st.Token != "" {
		t.Fatalf("missing state should be empty: %+v %v", st, err)
	}

	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := state.Save(path, state.TokenState{Token: "abc", ExpiresAt: exp}); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("token file must be private: %v %v", info, err)
	}
	st, err = state.Load(path)
	if err != nil || st.Token != "abc" || !st.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected state: %+v %v", st, err)
	}

	if err := state.Clear(path); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := state.Clear(path); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		st   state.TokenState
		want bool
	}{
		{name: "no expiry", st: state.TokenState{Token: "x"}, want: false},
		{name: "future", st: state.TokenState{ExpiresAt: now.Add(time.Minute)}, want: false},
		{name: "past", st: state.TokenState{ExpiresAt: now.Add(-time.Minute)}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.st.Expired(now); got != tc.want {
				t.Fatalf("Expired() = %v, want %v", got, tc.want)
			}
		})
	}
}
