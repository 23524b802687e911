package bledb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit short form",
			input:    "180d",
			expected: "180d",
		},
		{
			name:     "16-bit with 0x prefix",
			input:    "0x180d",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID with dashes",
			input:    "0000180d-0000-1000-8000-00805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Full Bluetooth SIG UUID without dashes",
			input:    "0000180d00001000800000805f9b34fb",
			expected: "180d",
		},
		{
			name:     "Custom 128-bit UUID (not SIG base)",
			input:    "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			expected: "6e400001b5a3f393e0a9e50e24dcca9e",
		},
		{
			name:     "UUID with braces",
			input:    "{0000180d-0000-1000-8000-00805f9b34fb}",
			expected: "180d",
		},
		{
			name:     "Uppercase input",
			input:    "0000180D-0000-1000-8000-00805F9B34FB",
			expected: "180d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestLookupService(t *testing.T) {
	name, ok := LookupService("0000180f-0000-1000-8000-00805f9b34fb")
	assert.True(t, ok)
	assert.Equal(t, "Battery Service", name)

	_, ok = LookupService("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	assert.False(t, ok)
}

func TestLookupCharacteristic(t *testing.T) {
	name, ok := LookupCharacteristic("2a19")
	assert.True(t, ok)
	assert.Equal(t, "Battery Level", name)

	name, ok = LookupCharacteristic("00002a37-0000-1000-8000-00805f9b34fb")
	assert.True(t, ok)
	assert.Equal(t, "Heart Rate Measurement", name)

	_, ok = LookupCharacteristic("ffff")
	assert.False(t, ok)
}
