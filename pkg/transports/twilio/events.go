package twilio

import (
	"encoding/json"
)

// Inbound Media Streams event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

// Custom stream parameters set on <Stream> by the voice webhook.
const (
	ParamCallSID      = "call_sid"
	ParamTwilioNumber = "twilio_number"
	ParamCallerNumber = "caller_number"
)

const (
	markSpeechEnd = "speech_end"
	markRejectEnd = "reject_end"
)

type TwilioStart struct {
	CallSID          string            `json:"callSid"`
	StreamID         string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	From             string            `json:"from,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type TwilioMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type TwilioMark struct {
	Name string `json:"name"`
}

type TwilioStop struct {
	CallSID    string `json:"callSid,omitempty"`
	AccountSID string `json:"accountSid,omitempty"`
}

// TwilioEvent is one Media Streams message in either direction.
type TwilioEvent struct {
	Event          string       `json:"event"`
	StreamID       string       `json:"streamSid,omitempty"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	Start          *TwilioStart `json:"start,omitempty"`
	Media          *TwilioMedia `json:"media,omitempty"`
	Mark           *TwilioMark  `json:"mark,omitempty"`
	Stop           *TwilioStop  `json:"stop,omitempty"`
}

func parseEvent(data []byte) (TwilioEvent, error) {
	var evt TwilioEvent
	err := json.Unmarshal(data, &evt)
	return evt, err
}

// numbers returns the callee and caller carried by a start event, preferring
// the webhook's custom parameters.
func (s *TwilioStart) numbers() (callee, caller string) {
	callee = s.CustomParameters[ParamTwilioNumber]
	caller = s.CustomParameters[ParamCallerNumber]
	if caller == "" {
		caller = s.From
	}
	return callee, caller
}

func mediaMessage(streamID, payload string) TwilioEvent {
	return TwilioEvent{Event: EventMedia, StreamID: streamID, Media: &TwilioMedia{Payload: payload}}
}

func markMessage(streamID, name string) TwilioEvent {
	return TwilioEvent{Event: EventMark, StreamID: streamID, Mark: &TwilioMark{Name: name}}
}

func clearMessage(streamID string) TwilioEvent {
	return TwilioEvent{Event: EventClear, StreamID: streamID}
}
