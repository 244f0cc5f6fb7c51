package normalize

import "testing"

func TestURL(t *testing.T) {
	tests := map[string]string{
		"relay.example.com":        "wss://relay.example.com",
		"wss://relay.example.com/": "wss://relay.example.com",
		"http://relay.example.com": "ws://relay.example.com",
		"https://relay.example.com/path/": "wss://relay.example.com/path",
		"  WSS://Relay.Example.Com ":      "wss://relay.example.com",
		"": "",
	}
	for in, want := range tests {
		if got := URL(in); got != want {
			t.Errorf("URL(%q) = %q, want %q", in, got, want)
		}
	}
}
