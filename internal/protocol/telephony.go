package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TelephonyEventType identifies media-stream payload variants.
type TelephonyEventType string

const (
	TelephonyConnected TelephonyEventType = "connected"
	TelephonyStart     TelephonyEventType = "start"
	TelephonyMedia     TelephonyEventType = "media"
	TelephonyStop      TelephonyEventType = "stop"
	TelephonyMark      TelephonyEventType = "mark"
	TelephonyClear     TelephonyEventType = "clear"
)

var ErrUnsupportedEvent = errors.New("unsupported event type")

type telephonyEnvelope struct {
	Event TelephonyEventType `json:"event"`
}

// StreamStart is the platform's confirmation that the media stream is live.
// StreamSID and CallSID are required before any audio can be addressed.
type StreamStart struct {
	Event TelephonyEventType `json:"event"`
	Start struct {
		StreamSID string `json:"streamSid"`
		CallSID   string `json:"callSid"`
	} `json:"start"`
}

// StreamMedia carries one base64-framed audio payload. The payload is
// opaque to the bridge and always forwarded unmodified.
type StreamMedia struct {
	Event TelephonyEventType `json:"event"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type StreamStop struct {
	Event TelephonyEventType `json:"event"`
}

type StreamConnected struct {
	Event TelephonyEventType `json:"event"`
}

// OutboundMedia wraps assistant audio into the platform's media envelope,
// addressed with the stream identifier captured from the start event.
type OutboundMedia struct {
	Event     TelephonyEventType `json:"event"`
	StreamSID string             `json:"streamSid"`
	Media     MediaPayload       `json:"media"`
}

type MediaPayload struct {
	Payload string `json:"payload"`
}

// OutboundClear discards any audio still queued for playback on the
// telephony leg. Sent as the second half of the barge-in transition.
type OutboundClear struct {
	Event     TelephonyEventType `json:"event"`
	StreamSID string             `json:"streamSid"`
}

func NewOutboundMedia(streamSID, payload string) OutboundMedia {
	return OutboundMedia{
		Event:     TelephonyMedia,
		StreamSID: streamSID,
		Media:     MediaPayload{Payload: payload},
	}
}

func NewOutboundClear(streamSID string) OutboundClear {
	return OutboundClear{Event: TelephonyClear, StreamSID: streamSID}
}

// ParseTelephonyEvent decodes one inbound media-stream event. Unknown
// event names return ErrUnsupportedEvent so callers can drop them without
// tearing down the session.
func ParseTelephonyEvent(raw []byte) (any, error) {
	var env telephonyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case TelephonyStart:
		var msg StreamStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Start.StreamSID == "" || msg.Start.CallSID == "" {
			return nil, errors.New("start event missing streamSid or callSid")
		}
		return msg, nil
	case TelephonyMedia:
		var msg StreamMedia
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Media.Payload == "" {
			return nil, errors.New("media event missing payload")
		}
		return msg, nil
	case TelephonyStop:
		var msg StreamStop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TelephonyConnected:
		var msg StreamConnected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}
