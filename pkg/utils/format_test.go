package utils

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{
			name:     "bytes",
			bytes:    500,
			expected: "500 B",
		},
		{
			name:     "kilobytes",
			bytes:    1500,
			expected: "1.5 KB",
		},
		{
			name:     "megabytes",
			bytes:    1500000,
			expected: "1.4 MB",
		},
		{
			name:     "gigabytes",
			bytes:    1500000000,
			expected: "1.4 GB",
		},
		{
			name:     "terabytes",
			bytes:    1500000000000,
			expected: "1.4 TB",
		},
		{
			name:     "zero bytes",
			bytes:    0,
			expected: "0 B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatSize(tt.bytes)
			if result != tt.expected {
				t.Errorf("FormatSize(%d) = %s; want %s", tt.bytes, result, tt.expected)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		expected string
	}{
		{
			name:     "sub second",
			d:        300 * time.Millisecond,
			expected: "0.3s",
		},
		{
			name:     "seconds",
			d:        4200 * time.Millisecond,
			expected: "4.2s",
		},
		{
			name:     "minutes",
			d:        2*time.Minute + 5*time.Second,
			expected: "2m05s",
		},
		{
			name:     "hours",
			d:        time.Hour + 2*time.Minute + 3*time.Second,
			expected: "1h02m03s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatDuration(tt.d)
			if result != tt.expected {
				t.Errorf("FormatDuration(%s) = %s; want %s", tt.d, result, tt.expected)
			}
		})
	}
}

func TestNewTransportRequiresModernTLS(t *testing.T) {
	tr := NewTransport()
	if tr.TLSClientConfig == nil || tr.TLSClientConfig.MinVersion != tls.VersionTLS12 {
		t.Fatalf("expected TLS 1.2 minimum, got %+v", tr.TLSClientConfig)
	}
	if tr.TLSHandshakeTimeout == 0 {
		t.Error("handshake timeout should be bounded")
	}
}
