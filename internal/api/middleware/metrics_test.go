package middleware

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/health", "/api/health"},
		{"/health/live", "/health/live"},
		{"/health/ready", "/health/ready"},
		{"/metrics", "/metrics"},
		{"/api/upload", "/api/upload"},
		{"/api/transfer/123456", "/api/transfer/{code}"},
		{"/api/download-all/654321", "/api/download-all/{code}"},
		{"/api/download/123456/a1b2c3d4", "/api/download/{code}/{file_id}"},
		// Невалидные сегменты кода остаются как есть
		{"/api/transfer/12345", "/api/transfer/12345"},
		{"/api/transfer/abcdef", "/api/transfer/abcdef"},
		{"/api/download/1234567/file", "/api/download/1234567/file"},
		{"/api/download/123456", "/api/download/123456"},
		{"/unknown", "/unknown"},
	}

	for _, tc := range tests {
		if got := normalizePath(tc.path); got != tc.want {
			t.Errorf("normalizePath(%q): хотели %q, получили %q", tc.path, tc.want, got)
		}
	}
}

func TestIsCodeSegment(t *testing.T) {
	tests := []struct {
		segment string
		want    bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12345a", false},
		{"", false},
	}

	for _, tc := range tests {
		if got := isCodeSegment(tc.segment); got != tc.want {
			t.Errorf("isCodeSegment(%q): хотели %v, получили %v", tc.segment, tc.want, got)
		}
	}
}
