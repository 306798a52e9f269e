package ecudiag_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/roffe/ecudiag"
)

func TestResultFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ecudiag.ResultCode
	}{
		{"no error", nil, ecudiag.OK},
		{"not supported", ecudiag.ErrNotSupported, ecudiag.NotSupported},
		{"empty response", ecudiag.ErrEmptyResponse, ecudiag.EmptyResponse},
		{"wrong message", ecudiag.ErrWrongMessage, ecudiag.WrongMessage},
		{"server not running", ecudiag.ErrServerNotRunning, ecudiag.ServerNotRunning},
		{"server running", ecudiag.ErrServerRunning, ecudiag.ServerAlreadyRunning},
		{"response length", ecudiag.ErrInvalidResponseLength, ecudiag.InvalidResponseLength},
		{"wrapped parameter", fmt.Errorf("bad id: %w", ecudiag.ErrInvalidParameter), ecudiag.ParameterInvalid},
		{"callback exists", ecudiag.ErrCallbackExists, ecudiag.CallbackAlreadyExists},
		{"negative response", &ecudiag.ECUError{Service: 0x22, Code: 0x31, Desc: "request out of range"}, ecudiag.ECUNegativeResponse},
		// wire timeouts mean the ECU was never reached, they must not
		// share a code with an ECU that answered with nothing
		{"timeout sentinel", ecudiag.ErrTimeout, ecudiag.HardwareError},
		{"wire timeout", &ecudiag.TimeoutError{Op: "read", Timeout: time.Second}, ecudiag.HardwareError},
		{"unknown", errors.New("port gone"), ecudiag.HardwareError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ecudiag.ResultFromError(tt.err); got != tt.want {
				t.Errorf("ResultFromError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestResultCodeStrings(t *testing.T) {
	if got := ecudiag.HardwareError.String(); got != "hardware error" {
		t.Errorf("HardwareError.String() = %q", got)
	}
	if got := ecudiag.EmptyResponse.String(); got != "empty response" {
		t.Errorf("EmptyResponse.String() = %q", got)
	}
	if got := ecudiag.ResultCode(200).String(); got != "unknown" {
		t.Errorf("ResultCode(200).String() = %q", got)
	}
}
