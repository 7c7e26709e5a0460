package unireq

import (
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	oldCommit, oldDate := Commit, BuildDate
	t.Cleanup(func() { Commit, BuildDate = oldCommit, oldDate })

	Commit, BuildDate = "abc1234", ""
	got := GetVersion()
	if !strings.HasPrefix(got, "unireq "+Version) {
		t.Errorf("GetVersion() = %q, want the version first", got)
	}
	if !strings.Contains(got, "commit abc1234") {
		t.Errorf("GetVersion() = %q, want the stamped commit", got)
	}
	if !strings.Contains(got, "built unknown") {
		t.Errorf("GetVersion() = %q, want an unknown build date", got)
	}
}
