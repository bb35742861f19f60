package bridge

import "encoding/json"

// Twilio media-stream event names.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
	eventClear     = "clear"
)

// streamMessage is the envelope for every inbound media-stream message.
// Unknown events decode with just Event set and are ignored.
type streamMessage struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
}

type startPayload struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	// Payload is base64-encoded mu-law audio.
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type outboundMark struct {
	Event     string      `json:"event"`
	StreamSid string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

func mediaMessage(streamSid, payloadB64 string) []byte {
	b, _ := json.Marshal(outboundMedia{Event: eventMedia, StreamSid: streamSid, Media: mediaPayload{Payload: payloadB64}})
	return b
}

func markMessage(streamSid, name string) []byte {
	b, _ := json.Marshal(outboundMark{Event: eventMark, StreamSid: streamSid, Mark: markPayload{Name: name}})
	return b
}

// clearMessage tells Twilio to drop any buffered outbound playback. Sent on
// barge-in so the caller's cancelled speech stops audibly, not just at the
// source.
func clearMessage(streamSid string) []byte {
	b, _ := json.Marshal(outboundClear{Event: eventClear, StreamSid: streamSid})
	return b
}
