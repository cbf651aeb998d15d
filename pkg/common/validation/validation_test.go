package validation

import (
	"testing"
	"time"

	"github.com/vnykmshr/pacer/pkg/common/errors"
)

func TestValidatePositive(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		wantError bool
	}{
		{"positive value", 10, false},
		{"positive value 1", 1, false},
		{"zero value", 0, true},
		{"negative value", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePositive("memory", "capacity", tt.value)
			if tt.wantError {
				if !errors.IsValidationError(err) {
					t.Errorf("expected ValidationError, got %T", err)
				}
			} else if err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestValidateNonNegative(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		wantError bool
	}{
		{"positive value", 10.5, false},
		{"zero value", 0.0, false},
		{"small negative", -0.001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNonNegative("api", "burst", tt.value)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidateNonNegative(%v) error = %v, wantError %v", tt.value, err, tt.wantError)
			}
		})
	}
}

func TestValidatePositiveFloat(t *testing.T) {
	if err := ValidatePositiveFloat("api", "rate", 0.5); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePositiveFloat("api", "rate", 0); err == nil {
		t.Error("expected error for zero rate")
	}
}

func TestValidatePositiveDuration(t *testing.T) {
	tests := []struct {
		name      string
		value     time.Duration
		wantError bool
	}{
		{"one second", time.Second, false},
		{"one nanosecond", time.Nanosecond, false},
		{"zero", 0, true},
		{"negative", -time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePositiveDuration("bus", "poll_interval", tt.value)
			if (err != nil) != tt.wantError {
				t.Errorf("ValidatePositiveDuration(%v) error = %v, wantError %v", tt.value, err, tt.wantError)
			}
		})
	}
}

func TestValidateNotEmpty(t *testing.T) {
	if err := ValidateNotEmpty("stage", "input", "threat-raw"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, v := range []string{"", "   "} {
		if err := ValidateNotEmpty("stage", "input", v); err == nil {
			t.Errorf("expected error for %q", v)
		}
	}
}

func TestValidateOneOf(t *testing.T) {
	if err := ValidateOneOf("bus", "backend", "redis", "memory", "redis"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := ValidateOneOf("bus", "backend", "kafka", "memory", "redis")
	if err == nil {
		t.Fatal("expected error")
	}
	want := "bus: invalid backend=kafka (unsupported value) - use one of memory, redis"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestValidationErrorDetails(t *testing.T) {
	err := ValidatePositive("memory", "capacity", -5)
	valErr, ok := err.(*errors.ValidationError)
	if !ok {
		t.Fatalf("could not cast %T to ValidationError", err)
	}

	if valErr.Module != "memory" {
		t.Errorf("Module = %q, want %q", valErr.Module, "memory")
	}
	if valErr.Field != "capacity" {
		t.Errorf("Field = %q, want %q", valErr.Field, "capacity")
	}
	if valErr.Value != -5 {
		t.Errorf("Value = %v, want %v", valErr.Value, -5)
	}
	if valErr.Hint != "value must be greater than 0" {
		t.Errorf("Hint = %q, want %q", valErr.Hint, "value must be greater than 0")
	}
}

func TestValidationErrorWrapping(t *testing.T) {
	testCases := []struct {
		name string
		err  error
	}{
		{"ValidatePositive", ValidatePositive("test", "field", -1)},
		{"ValidateNonNegative", ValidateNonNegative("test", "field", -1.0)},
		{"ValidatePositiveFloat", ValidatePositiveFloat("test", "field", 0.0)},
		{"ValidatePositiveDuration", ValidatePositiveDuration("test", "field", 0)},
		{"ValidateNotEmpty", ValidateNotEmpty("test", "field", "")},
		{"ValidateOneOf", ValidateOneOf("test", "field", "x", "y")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			valErr, ok := tc.err.(*errors.ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", tc.err)
			}
			if wrapped := valErr.Unwrap(); wrapped != errors.ErrInvalidConfiguration {
				t.Errorf("should unwrap to ErrInvalidConfiguration, got %v", wrapped)
			}
		})
	}
}
