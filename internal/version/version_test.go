package version

import "testing"

func TestString(t *testing.T) {
	oldV, oldC, oldB := Version, Commit, BuildTime
	defer func() { Version, Commit, BuildTime = oldV, oldC, oldB }()

	Version, Commit, BuildTime = "1.2.3", "abc123", "2025-01-01T00:00:00Z"

	if got, want := String(), "1.2.3 (abc123) built 2025-01-01T00:00:00Z"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := Get(); got.Version != "1.2.3" || got.Commit != "abc123" {
		t.Errorf("Get() = %+v", got)
	}
}
