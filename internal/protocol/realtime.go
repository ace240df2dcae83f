package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RealtimeEventType identifies AI-realtime payload variants.
type RealtimeEventType string

const (
	RealtimeSessionUpdate          RealtimeEventType = "session.update"
	RealtimeInputAudioAppend       RealtimeEventType = "input_audio_buffer.append"
	RealtimeResponseCancel         RealtimeEventType = "response.cancel"
	RealtimeResponseCreate         RealtimeEventType = "response.create"
	RealtimeResponseAudioDelta     RealtimeEventType = "response.audio.delta"
	RealtimeSpeechStarted          RealtimeEventType = "input_audio_buffer.speech_started"
	RealtimeInputTranscriptionDone RealtimeEventType = "conversation.item.input_audio_transcription.completed"
	RealtimeOutputTranscriptDone   RealtimeEventType = "response.audio_transcript.done"
)

type realtimeEnvelope struct {
	Type RealtimeEventType `json:"type"`
}

// TurnDetection configures server-side voice-activity detection so the
// remote end drives turn taking without push-to-talk signaling.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

type Transcription struct {
	Model string `json:"model"`
}

type SessionConfig struct {
	TurnDetection           TurnDetection `json:"turn_detection"`
	InputAudioFormat        string        `json:"input_audio_format"`
	OutputAudioFormat       string        `json:"output_audio_format"`
	InputAudioTranscription Transcription `json:"input_audio_transcription"`
	Voice                   string        `json:"voice"`
	Instructions            string        `json:"instructions"`
	Modalities              []string      `json:"modalities"`
	Temperature             float64       `json:"temperature"`
}

type SessionUpdate struct {
	Type    RealtimeEventType `json:"type"`
	Session SessionConfig     `json:"session"`
}

// InputAudioAppend forwards one telephony audio payload into the remote
// input buffer, byte-for-byte in the agreed encoding.
type InputAudioAppend struct {
	Type  RealtimeEventType `json:"type"`
	Audio string            `json:"audio"`
}

type ResponseCancel struct {
	Type RealtimeEventType `json:"type"`
}

type ResponseCreate struct {
	Type RealtimeEventType `json:"type"`
}

// ResponseAudioDelta is one chunk of assistant speech.
type ResponseAudioDelta struct {
	Type  RealtimeEventType `json:"type"`
	Delta string            `json:"delta"`
}

// SpeechStarted signals user speech detected by server VAD. Receiving it
// while assistant output is in flight is the barge-in trigger.
type SpeechStarted struct {
	Type RealtimeEventType `json:"type"`
}

// InputTranscriptionDone carries the finished transcript of a user turn.
type InputTranscriptionDone struct {
	Type       RealtimeEventType `json:"type"`
	Transcript string            `json:"transcript"`
}

// OutputTranscriptDone carries the finished transcript of an assistant turn.
type OutputTranscriptDone struct {
	Type       RealtimeEventType `json:"type"`
	Transcript string            `json:"transcript"`
}

func NewInputAudioAppend(audio string) InputAudioAppend {
	return InputAudioAppend{Type: RealtimeInputAudioAppend, Audio: audio}
}

func NewResponseCancel() ResponseCancel {
	return ResponseCancel{Type: RealtimeResponseCancel}
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: RealtimeResponseCreate}
}

// NewSessionUpdate builds the one-shot session configuration. Both audio
// formats are pinned to the telephony codec so no transcoding stage sits
// between the two legs.
func NewSessionUpdate(instructions, voice string, temperature float64) SessionUpdate {
	return SessionUpdate{
		Type: RealtimeSessionUpdate,
		Session: SessionConfig{
			TurnDetection: TurnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: 2000,
				CreateResponse:    true,
			},
			InputAudioFormat:        "g711_ulaw",
			OutputAudioFormat:       "g711_ulaw",
			InputAudioTranscription: Transcription{Model: "whisper-1"},
			Voice:                   voice,
			Instructions:            instructions,
			Modalities:              []string{"text", "audio"},
			Temperature:             temperature,
		},
	}
}

// ParseRealtimeEvent decodes one inbound AI-realtime event. Event types
// the bridge does not act on return ErrUnsupportedEvent.
func ParseRealtimeEvent(raw []byte) (any, error) {
	var env realtimeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case RealtimeResponseAudioDelta:
		var msg ResponseAudioDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Delta == "" {
			return nil, errors.New("audio delta missing payload")
		}
		return msg, nil
	case RealtimeSpeechStarted:
		var msg SpeechStarted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case RealtimeInputTranscriptionDone:
		var msg InputTranscriptionDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case RealtimeOutputTranscriptDone:
		var msg OutputTranscriptDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}
