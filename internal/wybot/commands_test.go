package wybot

import (
	"errors"
	"testing"
)

func TestStartStopCommands_ModelBranching(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		wantStart string
		wantStop  string
	}{
		{"WY460", "WY460", "02", "01"},
		{"WY200", "WY200", "01", "00"},
		{"unknown model", "", "01", "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := StartCommand(tt.model)
			if start.Data != tt.wantStart {
				t.Errorf("StartCommand(%q).Data = %q, want %q", tt.model, start.Data, tt.wantStart)
			}
			if start.ID != DPCleaningStatus {
				t.Errorf("StartCommand id = %d, want %d", start.ID, DPCleaningStatus)
			}

			stop := StopCommand(tt.model)
			if stop.Data != tt.wantStop {
				t.Errorf("StopCommand(%q).Data = %q, want %q", tt.model, stop.Data, tt.wantStop)
			}
		})
	}
}

func TestDockCommand(t *testing.T) {
	dp := DockCommand()
	if dp.ID != DPCleaningStatus || dp.Data != "03" {
		t.Errorf("DockCommand() = id %d data %q, want id 0 data \"03\"", dp.ID, dp.Data)
	}
}

func TestAction(t *testing.T) {
	tests := []struct {
		action   string
		model    string
		wantData string
		wantErr  error
	}{
		{"start", "WY460", "02", nil},
		{"start", "WY100", "01", nil},
		{"stop", "WY460", "01", nil},
		{"stop", "WY100", "00", nil},
		{"dock", "WY460", "03", nil},
		{"reboot", "WY460", "", ErrUnknownAction},
		{"", "WY460", "", ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.action+"/"+tt.model, func(t *testing.T) {
			dp, err := Action(tt.action, tt.model)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Action(%q) err = %v, want %v", tt.action, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Action(%q) unexpected error: %v", tt.action, err)
			}
			if dp.Data != tt.wantData {
				t.Errorf("Action(%q, %q).Data = %q, want %q", tt.action, tt.model, dp.Data, tt.wantData)
			}
		})
	}
}

func TestSnapCleanMinutes(t *testing.T) {
	tests := []struct {
		minutes int
		want    int
	}{
		{60, 60},
		{120, 120},
		{240, 240},
		{61, 60},
		{119, 120},
		{90, 60},  // equidistant, lower preset wins
		{150, 120},
		{210, 180},
		{1, 60},
		{255, 240},
	}

	for _, tt := range tests {
		if got := SnapCleanMinutes(tt.minutes); got != tt.want {
			t.Errorf("SnapCleanMinutes(%d) = %d, want %d", tt.minutes, got, tt.want)
		}
	}
}

func TestCleanTimeCommand(t *testing.T) {
	dp, err := CleanTimeCommand(60)
	if err != nil {
		t.Fatalf("CleanTimeCommand(60) error: %v", err)
	}
	if dp.ID != DPCleanTime {
		t.Errorf("id = %d, want %d", dp.ID, DPCleanTime)
	}
	if dp.Data != "3c000000" {
		t.Errorf("Data = %q, want \"3c000000\"", dp.Data)
	}
	if dp.Len == nil || *dp.Len != 4 {
		t.Errorf("Len = %v, want 4", dp.Len)
	}

	// Snapped values still encode the preset.
	dp, err = CleanTimeCommand(100)
	if err != nil {
		t.Fatalf("CleanTimeCommand(100) error: %v", err)
	}
	if dp.Data != "78000000" {
		t.Errorf("Data = %q, want \"78000000\"", dp.Data)
	}
}

func TestCleanTimeCommand_InvalidDuration(t *testing.T) {
	for _, minutes := range []int{0, -5, 256, 1000} {
		if _, err := CleanTimeCommand(minutes); !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("CleanTimeCommand(%d) err = %v, want ErrInvalidDuration", minutes, err)
		}
	}
}

func TestStatusTableFor(t *testing.T) {
	if got := StatusTableFor("WY460"); got != StatusTableModern {
		t.Errorf("StatusTableFor(WY460) = %v, want modern", got)
	}
	if got := StatusTableFor("WY200"); got != StatusTableLegacy {
		t.Errorf("StatusTableFor(WY200) = %v, want legacy", got)
	}
}
