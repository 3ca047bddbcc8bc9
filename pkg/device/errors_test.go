package device

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotConnected, KindNotConnected},
		{fmt.Errorf("SET_ID: %w", ErrCommandTimeout), KindCommandTimeout},
		{&DeviceError{Command: "SET_ID", Message: "bad id"}, KindDeviceError},
		{&FlashError{Stage: FlashWriting, Segment: "app", Err: ErrDisconnected}, KindFlashFailed},
		{fmt.Errorf("open: %w", ErrPermissionDenied), KindPermissionDenied},
		{errors.New("boom"), KindInternal},
	}

	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestFlashError_UnwrapsCause(t *testing.T) {
	err := &FlashError{Stage: FlashErasing, Err: fmt.Errorf("read: %w", ErrDisconnected)}

	if !errors.Is(err, ErrFlashFailed) {
		t.Error("expected FlashError to match ErrFlashFailed")
	}
	if !errors.Is(err, ErrDisconnected) {
		t.Error("expected FlashError to unwrap to ErrDisconnected")
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(ErrNotSupported) {
		t.Error("NotSupported must not be retryable")
	}
	if Retryable(ErrInvalidFirmware) {
		t.Error("InvalidFirmware must not be retryable")
	}
	if !Retryable(ErrNoPortSelected) {
		t.Error("NoPortSelected should be retryable")
	}
	if !Retryable(&DeviceError{Message: "x"}) {
		t.Error("DeviceError should be retryable")
	}
	if !Retryable(&FlashError{Stage: FlashWriting, Err: errors.New("nak")}) {
		t.Error("FlashFailed should be retryable")
	}
}

func TestDeviceError_Message(t *testing.T) {
	err := &DeviceError{Command: "SET_MISSION", Message: "unknown mission"}
	if err.Error() != "device error on SET_MISSION: unknown mission" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
