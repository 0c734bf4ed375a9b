package protocol

import (
	"bytes"
	"encoding/json"
)

type Kind int

const (
	// KindInvalid marks a frame that is not valid JSON or cannot be
	// classified as a request, notification or response.
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
	// KindMalformedRequest marks a frame carrying a method together with
	// an id that is neither a string nor an integer.
	KindMalformedRequest
)

// Classification is the structural reading of a single inbound frame.
// ID holds the recovered request id when the frame carried a usable one.
type Classification struct {
	Kind Kind
	ID   *ID
}

type probe struct {
	Method *string         `json:"method"`
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Classify decides what a raw frame is: method+id means request, method
// alone means notification, result or error means response. Anything else
// is invalid; the id is recovered when it parses as string or integer.
func Classify(raw []byte) Classification {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return Classification{Kind: KindInvalid}
	}

	recovered := recoverID(p.ID)
	hasReply := len(p.Result) > 0 || len(p.Error) > 0

	if p.Method != nil && *p.Method != "" {
		// A frame claiming to be both a request and a response is
		// unclassifiable.
		if hasReply {
			return Classification{Kind: KindInvalid, ID: recovered}
		}
		if len(p.ID) == 0 || isNull(p.ID) {
			return Classification{Kind: KindNotification}
		}
		if recovered == nil {
			return Classification{Kind: KindMalformedRequest}
		}
		return Classification{Kind: KindRequest, ID: recovered}
	}

	if hasReply {
		return Classification{Kind: KindResponse, ID: recovered}
	}

	return Classification{Kind: KindInvalid, ID: recovered}
}

func recoverID(raw json.RawMessage) *ID {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var id ID
	if err := json.Unmarshal(raw, &id); err != nil {
		// Booleans, objects, arrays and fractional numbers are not
		// usable ids.
		return nil
	}
	return &id
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
