package relay

import "testing"

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"wss", "wss://relay.example.com/ws", "wss://relay.example.com/ws?clientType=sync"},
		{"ws with port", "ws://127.0.0.1:8080", "ws://127.0.0.1:8080?clientType=sync"},
		{"https", "https://relay.example.com/ws", "wss://relay.example.com/ws?clientType=sync"},
		{"http", "http://localhost:8080/ws", "ws://localhost:8080/ws?clientType=sync"},
		{"bare host", "relay.example.com", "wss://relay.example.com?clientType=sync"},
		{"bare host with path", "relay.example.com/socket", "wss://relay.example.com/socket?clientType=sync"},
		{"whitespace", "  wss://relay.example.com  ", "wss://relay.example.com?clientType=sync"},
		{"existing query kept", "wss://relay.example.com/ws?region=eu", "wss://relay.example.com/ws?clientType=sync&region=eu"},
		{"existing clientType replaced", "wss://relay.example.com/ws?clientType=app", "wss://relay.example.com/ws?clientType=sync"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.input, ClientType)
			if err != nil {
				t.Fatalf("BuildURL(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("BuildURL(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuildURLErrors(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://relay.example.com", "wss://", "://invalid"} {
		t.Run(in, func(t *testing.T) {
			if got, err := BuildURL(in, ClientType); err == nil {
				t.Errorf("BuildURL(%q) = %q, want error", in, got)
			}
		})
	}
}
