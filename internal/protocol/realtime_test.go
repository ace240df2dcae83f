package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseRealtimeEventAudioDelta(t *testing.T) {
	raw := []byte(`{"type":"response.audio.delta","delta":"AAECAw=="}`)
	msg, err := ParseRealtimeEvent(raw)
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}

	delta, ok := msg.(ResponseAudioDelta)
	if !ok {
		t.Fatalf("message type = %T, want ResponseAudioDelta", msg)
	}
	if delta.Delta != "AAECAw==" {
		t.Fatalf("delta = %q, want %q", delta.Delta, "AAECAw==")
	}
}

func TestParseRealtimeEventSpeechStarted(t *testing.T) {
	msg, err := ParseRealtimeEvent([]byte(`{"type":"input_audio_buffer.speech_started"}`))
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	if _, ok := msg.(SpeechStarted); !ok {
		t.Fatalf("message type = %T, want SpeechStarted", msg)
	}
}

func TestParseRealtimeEventTranscripts(t *testing.T) {
	msg, err := ParseRealtimeEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hello"}`))
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	user, ok := msg.(InputTranscriptionDone)
	if !ok || user.Transcript != "hello" {
		t.Fatalf("unexpected user transcript event: %#v", msg)
	}

	msg, err = ParseRealtimeEvent([]byte(`{"type":"response.audio_transcript.done","transcript":"hi there"}`))
	if err != nil {
		t.Fatalf("ParseRealtimeEvent() error = %v", err)
	}
	assistant, ok := msg.(OutputTranscriptDone)
	if !ok || assistant.Transcript != "hi there" {
		t.Fatalf("unexpected assistant transcript event: %#v", msg)
	}
}

func TestParseRealtimeEventIgnoresUnhandledTypes(t *testing.T) {
	_, err := ParseRealtimeEvent([]byte(`{"type":"session.updated"}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("error = %v, want ErrUnsupportedEvent", err)
	}
}

func TestNewSessionUpdatePinsTelephonyCodec(t *testing.T) {
	update := NewSessionUpdate("be helpful", "alloy", 0.7)
	raw, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded struct {
		Type    string `json:"type"`
		Session struct {
			TurnDetection struct {
				Type string `json:"type"`
			} `json:"turn_detection"`
			InputAudioFormat  string   `json:"input_audio_format"`
			OutputAudioFormat string   `json:"output_audio_format"`
			Voice             string   `json:"voice"`
			Modalities        []string `json:"modalities"`
		} `json:"session"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Type != "session.update" {
		t.Fatalf("type = %q, want session.update", decoded.Type)
	}
	if decoded.Session.TurnDetection.Type != "server_vad" {
		t.Fatalf("turn_detection = %q, want server_vad", decoded.Session.TurnDetection.Type)
	}
	if decoded.Session.InputAudioFormat != "g711_ulaw" || decoded.Session.OutputAudioFormat != "g711_ulaw" {
		t.Fatalf("audio formats = %q/%q, want g711_ulaw on both sides",
			decoded.Session.InputAudioFormat, decoded.Session.OutputAudioFormat)
	}
	if len(decoded.Session.Modalities) != 2 {
		t.Fatalf("modalities = %v, want text+audio", decoded.Session.Modalities)
	}
}
