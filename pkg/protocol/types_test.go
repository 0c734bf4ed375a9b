package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		req  Request
	}{
		{"string id", Request{JSONRPC: "2.0", ID: StringID("abc-1"), Method: "tools/list"}},
		{"number id", Request{JSONRPC: "2.0", ID: NumberID(42), Method: "tools/call", Params: json.RawMessage(`{"name":"echo"}`)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.req)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			var got Request
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}

			if !reflect.DeepEqual(got.ID, tc.req.ID) {
				t.Errorf("id mismatch: got %+v, want %+v", got.ID, tc.req.ID)
			}
			if got.Method != tc.req.Method {
				t.Errorf("method mismatch: got %q, want %q", got.Method, tc.req.Method)
			}
			if string(got.Params) != string(tc.req.Params) {
				t.Errorf("params mismatch: got %s, want %s", got.Params, tc.req.Params)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	id := StringID("r1")
	resp, err := NewResponse(&id, map[string]string{"status": "ok"})
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var got Response
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got.ID == nil || got.ID.String() != "r1" {
		t.Errorf("expected id r1, got %v", got.ID)
	}
	if got.Error != nil {
		t.Errorf("expected no error, got %+v", got.Error)
	}
	if len(got.Result) == 0 {
		t.Error("result should not be empty")
	}
}

func TestErrorResponseHasNullID(t *testing.T) {
	resp := NewErrorResponse(nil, CodeParseError, "Parse error")

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	idRaw, ok := raw["id"]
	if !ok {
		t.Fatal("id field must be present on error responses")
	}
	if string(idRaw) != "null" {
		t.Errorf("expected id null, got %s", idRaw)
	}
}

func TestResponseExactlyOneOfResultError(t *testing.T) {
	id := NumberID(7)
	ok, err := NewResponse(&id, "fine")
	if err != nil {
		t.Fatalf("NewResponse failed: %v", err)
	}
	failed := NewErrorResponse(&id, CodeInternal, "boom")

	okData, _ := json.Marshal(ok)
	failData, _ := json.Marshal(failed)

	var okRaw, failRaw map[string]json.RawMessage
	json.Unmarshal(okData, &okRaw)
	json.Unmarshal(failData, &failRaw)

	if _, has := okRaw["error"]; has {
		t.Error("success response must not carry error")
	}
	if _, has := failRaw["result"]; has {
		t.Error("error response must not carry result")
	}
}

func TestNotificationHasNoID(t *testing.T) {
	n, err := NewNotification("initialized", struct{}{})
	if err != nil {
		t.Fatalf("NewNotification failed: %v", err)
	}

	data, _ := json.Marshal(n)
	var raw map[string]json.RawMessage
	json.Unmarshal(data, &raw)

	if _, has := raw["id"]; has {
		t.Error("notification must not carry an id")
	}
	if string(raw["jsonrpc"]) != `"2.0"` {
		t.Errorf("expected jsonrpc 2.0, got %s", raw["jsonrpc"])
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"request string id", `{"jsonrpc":"2.0","id":"1","method":"tools/list"}`, KindRequest},
		{"request number id", `{"jsonrpc":"2.0","id":9,"method":"ping"}`, KindRequest},
		{"notification", `{"jsonrpc":"2.0","method":"initialized"}`, KindNotification},
		{"null id is notification", `{"jsonrpc":"2.0","id":null,"method":"x"}`, KindNotification},
		{"response result", `{"jsonrpc":"2.0","id":"1","result":{}}`, KindResponse},
		{"response error", `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"x"}}`, KindResponse},
		{"bad id type", `{"jsonrpc":"2.0","id":true,"method":"x"}`, KindMalformedRequest},
		{"fractional id", `{"jsonrpc":"2.0","id":1.5,"method":"x"}`, KindMalformedRequest},
		{"no shape", `{"jsonrpc":"2.0","foo":1}`, KindInvalid},
		{"request and response at once", `{"jsonrpc":"2.0","id":1,"method":"x","result":{}}`, KindInvalid},
		{"not json", `{"jsonrpc":`, KindInvalid},
		{"array frame", `[1,2,3]`, KindInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify([]byte(tc.raw))
			if got.Kind != tc.want {
				t.Errorf("Classify(%s) = %v, want %v", tc.raw, got.Kind, tc.want)
			}
		})
	}
}

func TestClassifyRecoversID(t *testing.T) {
	c := Classify([]byte(`{"jsonrpc":"2.0","id":"k","foo":1}`))
	if c.Kind != KindInvalid {
		t.Fatalf("expected invalid kind, got %v", c.Kind)
	}
	if c.ID == nil || c.ID.String() != "k" {
		t.Errorf("expected recovered id k, got %v", c.ID)
	}
}
