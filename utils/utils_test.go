package utils

import (
	"os"
	"testing"
)

func parseWith(t *testing.T, argv ...string) map[string]string {
	t.Helper()
	old := os.Args
	os.Args = append([]string{"imagedupes"}, argv...)
	defer func() { os.Args = old }()
	return ParseArguments()
}

func TestParseArgumentsCommandAndFlags(t *testing.T) {
	args := parseWith(t, "scan", "--folder=/photos", "--strictness", "1", "--debug")

	if args["command"] != "scan" {
		t.Errorf("command = %q, want scan", args["command"])
	}
	if args["folder"] != "/photos" {
		t.Errorf("folder = %q, want /photos", args["folder"])
	}
	if args["strictness"] != "1" {
		t.Errorf("strictness = %q, want 1", args["strictness"])
	}
	if args["debug"] != "true" {
		t.Errorf("debug = %q, want true", args["debug"])
	}
}

func TestParseArgumentsBooleanBeforeFlag(t *testing.T) {
	args := parseWith(t, "scan", "--full", "--folder=/photos")
	if args["full"] != "true" {
		t.Errorf("full = %q, want true", args["full"])
	}
	if args["folder"] != "/photos" {
		t.Errorf("folder = %q, want /photos", args["folder"])
	}
}

func TestParseArgumentsNoCommand(t *testing.T) {
	args := parseWith(t, "--folder=/photos")
	if _, ok := args["command"]; ok {
		t.Errorf("unexpected command %q", args["command"])
	}
}

func TestParseStrictness(t *testing.T) {
	for _, tt := range []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"4", 4, false},
		{"2", 2, false},
		{"5", 2, true},
		{"-1", 2, true},
		{"abc", 2, true},
	} {
		got, err := ParseStrictness(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrictness(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseStrictness(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
