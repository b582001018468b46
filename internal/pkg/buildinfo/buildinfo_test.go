package buildinfo

import "testing"

func TestString(t *testing.T) {
	oldV, oldC := Version, Commit
	defer func() { Version, Commit = oldV, oldC }()

	Version, Commit = "v1.2.3", "unknown"
	if got := String(); got != "v1.2.3" {
		t.Fatalf("got=%q", got)
	}
	Commit = "abcdef1"
	if got := String(); got != "v1.2.3 (abcdef1)" {
		t.Fatalf("got=%q", got)
	}
}
