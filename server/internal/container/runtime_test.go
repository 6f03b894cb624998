package container

import (
	"errors"
	"testing"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
)

func TestCPUQuota(t *testing.T) {
	tests := []struct {
		cores float64
		want  int64
	}{
		{0.5, 50000},
		{1, 100000},
		{2, 200000},
		{0.29, 29000},
		{0.25, 25000},
		{0, 0},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := CPUQuota(tt.cores); got != tt.want {
			t.Errorf("CPUQuota(%v) = %d, want %d", tt.cores, got, tt.want)
		}
	}
	if got := CPUQuota(0.5); got != CPUPeriod/2 {
		t.Errorf("half a core should be half the period, got %d", got)
	}
}

func TestMemoryConversion(t *testing.T) {
	if got := MemoryBytes(256); got != 256*1024*1024 {
		t.Errorf("MemoryBytes(256) = %d", got)
	}
	if got := MemoryBytes(0); got != 0 {
		t.Errorf("MemoryBytes(0) = %d", got)
	}
	if got := MemoryMB(MemoryBytes(512)); got != 512 {
		t.Errorf("round trip = %d", got)
	}
	if got := CPUFromQuota(50000, CPUPeriod); got != 0.5 {
		t.Errorf("CPUFromQuota = %v", got)
	}
}

func TestClampTail(t *testing.T) {
	if ClampTail(0) != DefaultLogTail || ClampTail(5000) != MaxLogTail || ClampTail(20) != 20 {
		t.Error("unexpected tail clamping")
	}
}

func TestErrorClassification(t *testing.T) {
	err := AlreadyRunning("start", "ssh-target-1")
	if !errors.Is(err, ErrAlreadyRunning) || !errors.Is(err, apperr.ErrAlreadyInState) {
		t.Errorf("AlreadyRunning should match both sentinels: %v", err)
	}
	if got, want := err.Error(), "start: ssh-target-1: container already running"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(NotFound("inspect", "x"), apperr.ErrNotFound) {
		t.Error("NotFound should be apperr.ErrNotFound")
	}
	if apperr.KindOf(InvalidKind("create", "smtp")) != apperr.KindInvalidInput {
		t.Error("InvalidKind should be invalid input")
	}
}
