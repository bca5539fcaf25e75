package util

import (
	"sort"
	"testing"
	"time"
)

func TestFormatVersionUTC(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	got := FormatVersion(time.Date(2024, 10, 10, 17, 10, 10, 0, loc))
	if got != "20241010T101010Z" {
		t.Fatalf("unexpected version %q", got)
	}
}

func TestParseVersionRoundTrip(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseVersion(FormatVersion(ts))
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.Equal(ts) {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseVersionRejects(t *testing.T) {
	for _, s := range []string{"", "latest", "2024-10-10T10:10:10Z", "20241010T101010", ".tmp-20241010T101010Z"} {
		if IsVersion(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}

func TestVersionsSortChronologically(t *testing.T) {
	base := time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC)
	vs := []string{
		FormatVersion(base.Add(48 * time.Hour)),
		FormatVersion(base),
		FormatVersion(base.Add(time.Second)),
	}
	sort.Strings(vs)
	if vs[0] != FormatVersion(base) || vs[2] != FormatVersion(base.Add(48*time.Hour)) {
		t.Fatalf("unexpected order %v", vs)
	}
}

func TestSplitCSV(t *testing.T) {
	got := SplitCSV(" a, ,b,c ")
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected split %v", got)
	}
}
