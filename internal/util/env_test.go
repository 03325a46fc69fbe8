package util

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("LEADPIPE_TEST_VALUE", "  hello ")
	if got := GetEnv("LEADPIPE_TEST_VALUE", "x"); got != "hello" {
		t.Errorf("expected trimmed value, got %q", got)
	}
	t.Setenv("LEADPIPE_TEST_VALUE", "   ")
	if got := GetEnv("LEADPIPE_TEST_VALUE", "x"); got != "x" {
		t.Errorf("expected default for blank value, got %q", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("LEADPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("LEADPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Hour},
		{"90m", 90 * time.Minute},
		{"soon", time.Hour},
		{"-5m", time.Hour},
	}
	for _, tt := range tests {
		t.Setenv("LEADPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("LEADPIPE_TEST_DURATION", time.Hour); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseListEnv(t *testing.T) {
	def := []string{"a"}
	tests := []struct {
		value string
		want  []string
	}{
		{"", def},
		{"http://localhost:5173, https://agentoptimus.co.za", []string{"http://localhost:5173", "https://agentoptimus.co.za"}},
		{" , ,", def},
	}
	for _, tt := range tests {
		t.Setenv("LEADPIPE_TEST_LIST", tt.value)
		if got := ParseListEnv("LEADPIPE_TEST_LIST", def); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseListEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
