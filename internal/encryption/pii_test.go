package encryption

import (
	"reflect"
	"testing"
)

func TestDetectPII(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"email", "ops@lakeside.example", []string{"email"}},
		{"ssn", "536-90-4399", []string{"phone", "ssn"}},
		{"credit card", "4111 1111 1111 1111", []string{"credit_card", "phone"}},
		{"plain text", "call after lunch", nil},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectPII(tt.value); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DetectPII(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
