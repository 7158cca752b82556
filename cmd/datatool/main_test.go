package main

import (
	"errors"
	"flag"
	"io"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"64k", 64 << 10},
		{"64m", 64 << 20},
		{"2G", 2 << 30},
		{" 8m ", 8 << 20},
		{"lots", 0},
	}
	for _, tt := range tests {
		if got := parseSize(tt.in); got != tt.want {
			t.Errorf("parseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseArgs(t *testing.T) {
	newSet := func() *flag.FlagSet {
		fs := newFlags("test")
		fs.SetOutput(io.Discard)
		fs.String("o", "", "")
		return fs
	}
	if err := parse(newSet(), []string{"-o", "x", "a", "b"}, 1, -1); err != nil {
		t.Errorf("valid args: %v", err)
	}
	if err := parse(newSet(), []string{"-o", "x"}, 1, -1); !errors.Is(err, errUsage) {
		t.Errorf("missing file: %v, want usage error", err)
	}
	if err := parse(newSet(), []string{"a", "b"}, 1, 1); !errors.Is(err, errUsage) {
		t.Errorf("extra file: %v, want usage error", err)
	}
	if err := parse(newSet(), []string{"-bogus"}, 0, -1); !errors.Is(err, errUsage) {
		t.Errorf("unknown flag: %v, want usage error", err)
	}
	if err := parse(newSet(), []string{"-h"}, 0, -1); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("-h: %v, want flag.ErrHelp", err)
	}
	if err := requireOutput(""); !errors.Is(err, errUsage) {
		t.Errorf("requireOutput: %v", err)
	}
}
