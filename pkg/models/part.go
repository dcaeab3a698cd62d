package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// PartType discriminates the variants of Part.
type PartType string

const (
	PartText      PartType = "text"
	PartFile      PartType = "file"
	PartToolCall  PartType = "tool-call"
	PartReasoning PartType = "reasoning"
)

// ErrUnknownPartType is returned when decoding a part with an unrecognized tag.
var ErrUnknownPartType = errors.New("unknown part type")

// Part is one segment of a message. The set of implementations is closed:
// TextPart, FilePart, ToolCallPart and ReasoningPart.
type Part interface {
	Type() PartType
	isPart()
}

// TextPart is plain text authored by the user or the model.
type TextPart struct {
	Text string `json:"text"`
}

// FilePart references an uploaded object by URL.
type FilePart struct {
	MediaType string `json:"media_type"`
	URL       string `json:"url"`
	Filename  string `json:"filename,omitempty"`
}

// ReasoningState tracks whether a reasoning trace is still streaming.
type ReasoningState string

const (
	ReasoningStreaming ReasoningState = "streaming"
	ReasoningDone      ReasoningState = "done"
)

// ReasoningPart is a model reasoning trace.
type ReasoningPart struct {
	Text  string         `json:"text"`
	State ReasoningState `json:"state,omitempty"`
}

func (TextPart) Type() PartType      { return PartText }
func (FilePart) Type() PartType      { return PartFile }
func (ToolCallPart) Type() PartType  { return PartToolCall }
func (ReasoningPart) Type() PartType { return PartReasoning }

func (TextPart) isPart()      {}
func (FilePart) isPart()      {}
func (ToolCallPart) isPart()  {}
func (ReasoningPart) isPart() {}

func (p TextPart) MarshalJSON() ([]byte, error) {
	type alias TextPart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{PartText, alias(p)})
}

func (p FilePart) MarshalJSON() ([]byte, error) {
	type alias FilePart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{PartFile, alias(p)})
}

func (p ToolCallPart) MarshalJSON() ([]byte, error) {
	type alias ToolCallPart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{PartToolCall, alias(p)})
}

func (p ReasoningPart) MarshalJSON() ([]byte, error) {
	type alias ReasoningPart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{PartReasoning, alias(p)})
}

// DecodePart decodes a single tagged part. Fields that do not belong to the
// tagged variant are rejected.
func DecodePart(data []byte) (Part, error) {
	var head struct {
		Type PartType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case PartText:
		type alias TextPart
		var v struct {
			Type PartType `json:"type"`
			alias
		}
		if err := decodeStrict(data, &v); err != nil {
			return nil, err
		}
		return TextPart(v.alias), nil
	case PartFile:
		type alias FilePart
		var v struct {
			Type PartType `json:"type"`
			alias
		}
		if err := decodeStrict(data, &v); err != nil {
			return nil, err
		}
		return FilePart(v.alias), nil
	case PartToolCall:
		type alias ToolCallPart
		var v struct {
			Type PartType `json:"type"`
			alias
		}
		if err := decodeStrict(data, &v); err != nil {
			return nil, err
		}
		if !v.State.Valid() {
			return nil, fmt.Errorf("invalid tool call state %q", v.State)
		}
		return ToolCallPart(v.alias), nil
	case PartReasoning:
		type alias ReasoningPart
		var v struct {
			Type PartType `json:"type"`
			alias
		}
		if err := decodeStrict(data, &v); err != nil {
			return nil, err
		}
		return ReasoningPart(v.alias), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPartType, head.Type)
	}
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// ClonePart returns a copy of p that shares no mutable memory with it.
func ClonePart(p Part) Part {
	if tc, ok := p.(ToolCallPart); ok {
		return tc.Clone()
	}
	return p
}
