package bridge

import (
	"strings"
	"time"
)

// Session is the mutable per-call state. It is owned by exactly one Run
// loop; every mutation happens on that goroutine, which is what makes
// the barge-in transition atomic relative to audio relay.
type Session struct {
	CallSID   string
	StreamSID string
	RecordID  string

	// cancelSent suppresses duplicate cancel/clear pairs: once an
	// interruption has fired, repeated speech-started events are ignored
	// until assistant output resumes or the turn finishes. The agent can
	// be speaking before its first audio delta reaches us, so the first
	// interruption of a turn always fires.
	cancelSent bool

	framesIn   int
	framesOut  int
	lastMedia  time.Time
	startedAt  time.Time
	transcript strings.Builder
}

func newSession(callSID, streamSID, recordID string) *Session {
	return &Session{
		CallSID:   callSID,
		StreamSID: streamSID,
		RecordID:  recordID,
		startedAt: time.Now().UTC(),
	}
}

// noteMedia records one inbound audio frame and when it arrived, for
// close-time diagnostics on streams that drop without a stop event.
func (s *Session) noteMedia(now time.Time) {
	s.framesIn++
	s.lastMedia = now
}

// MediaIdle reports how long the stream has gone without inbound audio,
// and whether any audio arrived at all.
func (s *Session) MediaIdle(now time.Time) (time.Duration, bool) {
	if s.lastMedia.IsZero() {
		return 0, false
	}
	return now.Sub(s.lastMedia), true
}

// AppendUtterance adds one finished utterance to the transcript in
// event-arrival order.
func (s *Session) AppendUtterance(speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.transcript.WriteString(speaker)
	s.transcript.WriteString(": ")
	s.transcript.WriteString(text)
	s.transcript.WriteString("\n")
}

func (s *Session) Transcript() string {
	return s.transcript.String()
}

func (s *Session) Duration() time.Duration {
	return time.Since(s.startedAt)
}
