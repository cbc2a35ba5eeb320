package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/clashxw/clashxw-core/internal/engine"
	"github.com/clashxw/clashxw-core/internal/process"
	"github.com/clashxw/clashxw-core/internal/profile"
)

func TestClassifyControlError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantOK     bool
	}{
		{
			name:       "unknown profile",
			err:        fmt.Errorf("selecting work: %w", profile.ErrProfileNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   ErrCodeNotFound,
			wantOK:     true,
		},
		{
			name:       "not a profile",
			err:        profile.ErrNotProfile,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
			wantOK:     true,
		},
		{
			name:       "missing executable",
			err:        fmt.Errorf("%w: /usr/bin/clash", engine.ErrExecutableNotFound),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeEngine,
			wantOK:     true,
		},
		{
			name:       "launch failure",
			err:        engine.ErrLaunchFailed,
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeEngine,
			wantOK:     true,
		},
		{
			name:       "stop timeout",
			err:        fmt.Errorf("stopping previous engine: %w", process.ErrStopTimeout),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeStopTimeout,
			wantOK:     true,
		},
		{
			name:       "supervisor closed",
			err:        engine.ErrClosed,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   ErrCodeUnavailable,
			wantOK:     true,
		},
		{
			name:       "unmapped",
			err:        errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   ErrCodeInternal,
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, ok := classifyControlError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
		})
	}
}
