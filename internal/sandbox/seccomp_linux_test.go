//go:build linux

package sandbox

import (
	"io"
	"testing"
)

func TestBuildSeccompFilterDeniesKnownSyscalls(t *testing.T) {
	prog := buildSeccompFilter()
	if len(prog) != len(deniedSyscalls)+3 {
		t.Fatalf("program length = %d, want %d", len(prog), len(deniedSyscalls)+3)
	}
}

func TestSeccompFilterFDRoundTrip(t *testing.T) {
	prog := buildSeccompFilter()
	f, err := seccompFilterFD(prog)
	if err != nil {
		t.Fatalf("seccompFilterFD: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data)%8 != 0 {
		t.Fatalf("filter byte stream length %d not a multiple of 8", len(data))
	}
	if len(data)/8 != len(prog) {
		t.Fatalf("got %d instructions, want %d", len(data)/8, len(prog))
	}
}
