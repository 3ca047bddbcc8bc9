package serialport

import (
	"errors"
	"testing"

	"github.com/urmzd/ninho/pkg/device"
	"go.bug.st/serial"
)

func TestSelect_ExplicitPathWins(t *testing.T) {
	called := false
	list := func() ([]device.PortInfo, error) {
		called = true
		return nil, nil
	}

	got, err := Select("/dev/ttyUSB3", list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/dev/ttyUSB3" {
		t.Errorf("got %q, want /dev/ttyUSB3", got)
	}
	if called {
		t.Error("lister should not run when a path is given")
	}
}

func TestSelect_AutoDetectsBridge(t *testing.T) {
	list := func() ([]device.PortInfo, error) {
		return []device.PortInfo{
			{Path: "/dev/ttyS0"},
			{Path: "/dev/ttyUSB0", IsUSB: true, VID: "1A86", Bridge: "WCH CH340"},
		}, nil
	}

	got, err := Select("", list)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/dev/ttyUSB0" {
		t.Errorf("got %q, want /dev/ttyUSB0", got)
	}
}

func TestSelect_NoBoard(t *testing.T) {
	list := func() ([]device.PortInfo, error) {
		return []device.PortInfo{{Path: "/dev/ttyS0"}}, nil
	}

	_, err := Select("", list)
	if !errors.Is(err, device.ErrNoPortSelected) {
		t.Errorf("expected ErrNoPortSelected, got %v", err)
	}
}

func TestSortPorts_BridgesFirst(t *testing.T) {
	ports := []device.PortInfo{
		{Path: "/dev/ttyS1"},
		{Path: "/dev/ttyUSB1", Bridge: "FTDI"},
		{Path: "/dev/ttyS0"},
	}
	sortPorts(ports)

	if ports[0].Path != "/dev/ttyUSB1" || ports[1].Path != "/dev/ttyS0" {
		t.Errorf("unexpected order: %+v", ports)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{&serial.PortError{}, device.ErrBusy}, // zero code is PortBusy
		{errors.New("EIO"), nil},
	}

	for _, tc := range cases {
		got := Classify(tc.err)
		if tc.want == nil {
			if got != tc.err {
				t.Errorf("expected %v to pass through, got %v", tc.err, got)
			}
			continue
		}
		if !errors.Is(got, tc.want) {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
