package main

import "testing"

func TestDeriveHTTPBase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ws://127.0.0.1:8080/ws", "http://127.0.0.1:8080"},
		{"wss://pulse.example.com/ws?filter=x", "https://pulse.example.com"},
		{"ws://localhost:9000", "http://localhost:9000"},
		{"::not a url", "http://127.0.0.1:8080"},
	}
	for _, tt := range tests {
		if got := deriveHTTPBase(tt.in); got != tt.want {
			t.Errorf("deriveHTTPBase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
