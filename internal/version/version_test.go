package version

import "testing"

func TestInfo_Defaults(t *testing.T) {
	got := Info()
	if got.Version == "" || got.Commit == "" || got.Date == "" {
		t.Fatalf("Info() has empty fields: %+v", got)
	}
}

func TestInfo_VersionOverride(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, Commit, Date
	t.Cleanup(func() { Version, Commit, Date = oldVersion, oldCommit, oldDate })

	Version, Commit, Date = "9.9.9", "abc123", "2026-01-02"
	got := Info()
	if got.Version != "9.9.9" {
		t.Fatalf("Version mismatch: got=%q want=%q", got.Version, "9.9.9")
	}
	if s := got.String(); s != "hdbauth 9.9.9 (abc123, 2026-01-02)" {
		t.Fatalf("String() = %q", s)
	}
}
