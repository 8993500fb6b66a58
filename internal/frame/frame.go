// Package frame implements the self-describing wire record exchanged between
// agents and the relay: kind, name, a correlation uuid, and two free-form
// nested records (data and meta).
package frame

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/zencelium/zencelium/internal/relayerr"
)

// Kind identifies the role a frame plays in the protocol.
type Kind string

const (
	KindCommand  Kind = "command"
	KindEvent    Kind = "event"
	KindMessage  Kind = "message"
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// valid reports whether k is one of the five recognized kinds.
func (k Kind) valid() bool {
	switch k {
	case KindCommand, KindEvent, KindMessage, KindRequest, KindResponse:
		return true
	}
	return false
}

// Data and Meta are the nested free-form records. Both are plain
// map[string]any under the hood; named types exist so call sites read as
// "frame data" / "frame meta" rather than bare maps.
type Data map[string]interface{}
type Meta map[string]interface{}

// Frame is one application message: a kind, a name, a correlation uuid, and
// the two nested records. The JSON field names are part of the wire format
// and must not change.
type Frame struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	UUID string `json:"uuid,omitempty"`
	Data Data   `json:"data,omitempty"`
	Meta Meta   `json:"meta,omitempty"`
}

// New builds a frame with a freshly generated correlation uuid.
func New(kind Kind, name string, data Data) Frame {
	return Frame{
		Kind: kind,
		Name: name,
		UUID: uuid.NewString(),
		Data: data,
	}
}

// Decode parses a wire-format frame, returning MalformedFrame for anything
// that is not well-formed: invalid JSON, empty kind, empty name, or a kind
// outside the five recognized values.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", relayerr.ErrMalformed, err)
	}
	if f.Name == "" {
		return Frame{}, fmt.Errorf("%w: empty name", relayerr.ErrMalformed)
	}
	if !f.Kind.valid() {
		return Frame{}, fmt.Errorf("%w: unrecognized kind %q", relayerr.ErrMalformed, f.Kind)
	}
	return f, nil
}

// Encode serializes a frame to its wire format.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// replyKind returns the kind a reply to this frame's kind carries: commands
// reply with commands, requests yield responses, everything else replies in
// kind (mirrors the originating kind).
func (k Kind) replyKind() Kind {
	if k == KindRequest {
		return KindResponse
	}
	return k
}

// Reply derives a response frame: new name, kind appropriate to the
// reply, and the originator's correlation uuid so the sender can match it
// up. meta is never inherited — the relaying component fills it in.
func (f Frame) Reply(name string, data ...Data) Frame {
	r := Frame{
		Kind: f.Kind.replyKind(),
		Name: name,
		UUID: f.UUID,
	}
	if len(data) > 0 {
		r.Data = data[0]
	}
	return r
}

// ClearCorrelation drops the correlation uuid, used by the small-frames
// outbound mode.
func (f *Frame) ClearCorrelation() {
	f.UUID = ""
}

// ClearMeta drops the meta record, used by the small-frames outbound mode.
func (f *Frame) ClearMeta() {
	f.Meta = nil
}

// SetMeta sets a single meta key, creating the meta record if absent.
func (f *Frame) SetMeta(key string, value interface{}) {
	if f.Meta == nil {
		f.Meta = Meta{}
	}
	f.Meta[key] = value
}
