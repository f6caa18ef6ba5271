package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		current  string
		latest   string
		expected bool
	}{
		{"1.0.0", "1.0.1", true},
		{"1.0.0", "2.0.0", true},
		{"1.1.0", "1.0.9", false},
		{"1.0.0", "1.0.0", false},
		{"v1.0.0", "1.0.1", true},
		{"1.0.0", "v1.0.1", true},
		{"dev", "0.0.1", true},
		{"1", "1.0.1", true},
		{"1.0.0-rc2", "1.0.0", false},
		{"1.0.0", "1.0.1-beta", true},
	}
	for _, tt := range tests {
		t.Run(tt.current+"_vs_"+tt.latest, func(t *testing.T) {
			if got := isNewerVersion(tt.current, tt.latest); got != tt.expected {
				t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tt.current, tt.latest, got, tt.expected)
			}
		})
	}
}

func TestLeadingNumber(t *testing.T) {
	tests := map[string]int{"": 0, "7": 7, "12": 12, "3-rc1": 3, "beta": 0}
	for in, want := range tests {
		assert.Equal(t, want, leadingNumber(in), in)
	}
}

func TestReportUpdate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		current string
		wantOut string
		wantErr bool
	}{
		{"newer release", http.StatusOK, `{"tag_name":"v1.2.0","html_url":"https://example.invalid/r"}`, "1.1.0", "A new version is available: https://example.invalid/r", false},
		{"up to date", http.StatusOK, `{"tag_name":"v1.2.0"}`, "v1.2.0", "You are running the latest version.", false},
		{"no releases", http.StatusNotFound, ``, "1.0.0", "No releases found.", false},
		{"server error", http.StatusBadGateway, ``, "1.0.0", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/ssk-wh/ffmpeg-demo/releases/latest", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var out bytes.Buffer
			err := reportUpdate(context.Background(), &out, srv.URL, tt.current)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.wantOut)
		})
	}
}
