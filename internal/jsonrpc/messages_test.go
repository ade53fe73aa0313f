package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestAnyMessageNarrowing(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		wantType string
	}{
		{"request", `{"jsonrpc":"2.0","method":"ping","id":1}`, "request"},
		{"string id request", `{"jsonrpc":"2.0","method":"ping","id":"a"}`, "request"},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, "notification"},
		{"result response", `{"jsonrpc":"2.0","result":{},"id":1}`, "response"},
		{"error response", `{"jsonrpc":"2.0","error":{"code":-32601,"message":"nope"},"id":1}`, "response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var msg AnyMessage
			if err := json.Unmarshal([]byte(tc.raw), &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := msg.Type(); got != tc.wantType {
				t.Fatalf("type = %q, want %q", got, tc.wantType)
			}
			switch tc.wantType {
			case "request", "notification":
				if msg.AsRequest() == nil {
					t.Fatalf("AsRequest returned nil")
				}
				if msg.AsResponse() != nil {
					t.Fatalf("AsResponse should be nil for %s", tc.wantType)
				}
			case "response":
				if msg.AsResponse() == nil {
					t.Fatalf("AsResponse returned nil")
				}
				if msg.AsRequest() != nil {
					t.Fatalf("AsRequest should be nil for response")
				}
			}
		})
	}
}

func TestAnyMessageRejectsIncoherentShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"wrong version", `{"jsonrpc":"1.0","method":"ping","id":1}`},
		{"missing version", `{"method":"ping","id":1}`},
		{"request with result", `{"jsonrpc":"2.0","method":"ping","result":{},"id":1}`},
		{"response with both", `{"jsonrpc":"2.0","result":{},"error":{"code":1,"message":"x"},"id":1}`},
		{"response with neither", `{"jsonrpc":"2.0","id":1}`},
		{"bool id", `{"jsonrpc":"2.0","method":"ping","id":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var msg AnyMessage
			if err := json.Unmarshal([]byte(tc.raw), &msg); err == nil {
				t.Fatalf("unmarshal accepted %s", tc.raw)
			}
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`1`, "1"},
		{`"req-7"`, "req-7"},
		{`2.5`, "2.5"},
	}
	for _, tc := range cases {
		var id RequestID
		if err := json.Unmarshal([]byte(tc.raw), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		if id.String() != tc.want {
			t.Fatalf("String() = %q, want %q", id.String(), tc.want)
		}
		out, err := json.Marshal(&id)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != tc.raw {
			t.Fatalf("round trip = %s, want %s", out, tc.raw)
		}
	}

	var nilID *RequestID
	if !nilID.IsNil() {
		t.Fatalf("nil pointer should report IsNil")
	}
}
