package main

import (
	"reflect"
	"testing"
)

func TestStreamURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:8080", want: "ws://localhost:8080/ws"},
		{in: "https://overwatch.example.com/", want: "wss://overwatch.example.com/ws"},
		{in: "ftp://host", wantErr: true},
	}

	for _, tt := range tests {
		got, err := streamURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("streamURL(%q): err = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("streamURL(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("streamURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitChannels(t *testing.T) {
	t.Parallel()

	got := splitChannels("incidents, alerts,,cameras ")
	want := []string{"incidents", "alerts", "cameras"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitChannels = %v, want %v", got, want)
	}
}
