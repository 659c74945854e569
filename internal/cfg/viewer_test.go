package cfg

import (
	"flag"
	"strings"
	"testing"
)

func validViewer() ViewerConfig {
	return ViewerConfig{
		ServerURL:        "http://localhost:8080",
		AuthToken:        "tok",
		Channels:         "incidents,alerts",
		ReconnectSeconds: 5,
	}
}

func TestViewerRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c ViewerConfig
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.ServerURL != "http://localhost:8080" {
		t.Errorf("ServerURL = %q, want http://localhost:8080", c.ServerURL)
	}
	if c.Channels != "incidents,alerts" {
		t.Errorf("Channels = %q, want incidents,alerts", c.Channels)
	}
	if c.ReconnectSeconds != 5 {
		t.Errorf("ReconnectSeconds = %d, want 5", c.ReconnectSeconds)
	}
}

func TestViewerValidate(t *testing.T) {
	t.Parallel()

	mutate := func(fn func(*ViewerConfig)) ViewerConfig {
		c := validViewer()
		fn(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       ViewerConfig
		wantErr   bool
		errSubstr []string
	}{
		{
			name:    "valid",
			cfg:     validViewer(),
			wantErr: false,
		},
		{
			name:      "bad server url scheme",
			cfg:       mutate(func(c *ViewerConfig) { c.ServerURL = "ftp://host" }),
			wantErr:   true,
			errSubstr: []string{"SERVER_URL"},
		},
		{
			name:      "empty server url",
			cfg:       mutate(func(c *ViewerConfig) { c.ServerURL = "" }),
			wantErr:   true,
			errSubstr: []string{"SERVER_URL"},
		},
		{
			name:      "missing token",
			cfg:       mutate(func(c *ViewerConfig) { c.AuthToken = "" }),
			wantErr:   true,
			errSubstr: []string{"AUTH_TOKEN"},
		},
		{
			name:      "empty channels",
			cfg:       mutate(func(c *ViewerConfig) { c.Channels = "" }),
			wantErr:   true,
			errSubstr: []string{"CHANNELS"},
		},
		{
			name:      "reconnect zero",
			cfg:       mutate(func(c *ViewerConfig) { c.ReconnectSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"RECONNECT_SECONDS"},
		},
		{
			name:      "reconnect above max",
			cfg:       mutate(func(c *ViewerConfig) { c.ReconnectSeconds = 61 }),
			wantErr:   true,
			errSubstr: []string{"RECONNECT_SECONDS"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			for _, sub := range tt.errSubstr {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error %q missing substring %q", err, sub)
				}
			}
		})
	}
}
