package bridge

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aathul-raj/hermes/internal/calllog"
	"github.com/aathul-raj/hermes/internal/flow"
	"github.com/aathul-raj/hermes/internal/lifecycle"
	"github.com/aathul-raj/hermes/internal/observability"
	"github.com/aathul-raj/hermes/internal/protocol"
	"github.com/aathul-raj/hermes/internal/realtime"
)

const persistTimeout = 3 * time.Second

type Config struct {
	Voice       string
	Temperature float64

	// SettleDelay is how long to wait after the realtime connection
	// opens before sending session configuration.
	SettleDelay time.Duration
}

// Bridge relays one live call between the telephony media stream and the
// AI realtime connection. One Bridge run owns exactly one call; the only
// state shared with other calls is the lifecycle tracker's keyed table.
type Bridge struct {
	tracker *lifecycle.Tracker
	dialer  realtime.Dialer
	metrics *observability.Metrics
	cfg     Config
}

func New(tracker *lifecycle.Tracker, dialer realtime.Dialer, metrics *observability.Metrics, cfg Config) *Bridge {
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	return &Bridge{
		tracker: tracker,
		dialer:  dialer,
		metrics: metrics,
		cfg:     cfg,
	}
}

// Run drives one media-stream connection to completion. telIn delivers
// parsed telephony events in arrival order; telOut carries envelopes to
// be written back to the telephony socket. Run returns when either side
// closes; a broken realtime leg while telephony is still open returns an
// error after the session is marked failed.
func (b *Bridge) Run(ctx context.Context, telIn <-chan any, telOut chan<- any) error {
	sess, ok := b.awaitStart(ctx, telIn)
	if !ok {
		return nil
	}

	instructions := flow.GenericInstructions()
	callFlow, found := b.tracker.Lookup(sess.CallSID)
	if found {
		instructions = callFlow.Instructions()
		sess.RecordID = callFlow.RecordID
	} else {
		// Call placement and stream start can race; degrade rather
		// than fail the call.
		log.Printf("[bridge] call=%s no flow registered, using generic instructions", sess.CallSID)
		b.metrics.CallEvents.WithLabelValues("flow_missing").Inc()
	}

	rt, err := b.dialer.Dial(ctx)
	if err != nil {
		b.recordError(sess, fmt.Sprintf("realtime dial failed: %v", err))
		return fmt.Errorf("dial realtime: %w", err)
	}

	b.metrics.ActiveCalls.Inc()
	b.metrics.CallEvents.WithLabelValues("started").Inc()
	log.Printf("[bridge] call=%s stream=%s session started", sess.CallSID, sess.StreamSID)

	flushCh := make(chan string, 1)
	flushDone := make(chan struct{})
	go b.flushWorker(sess.RecordID, flushCh, flushDone)

	defer func() {
		// Drain the flush worker before the final write so an in-flight
		// older snapshot cannot land after the final transcript.
		close(flushCh)
		<-flushDone
		if transcript := sess.Transcript(); transcript != "" {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := b.tracker.RecordTranscript(ctx, sess.RecordID, transcript); err != nil {
				log.Printf("[bridge] call=%s final transcript flush failed: %v", sess.CallSID, err)
				b.metrics.PersistFailures.WithLabelValues("transcript").Inc()
			}
			cancel()
		}
		_ = rt.Close()
		b.tracker.Remove(sess.CallSID)
		b.metrics.ActiveCalls.Dec()
		b.metrics.ObserveCallDuration(sess.Duration())
		log.Printf("[bridge] call=%s closed after %s (%d frames in, %d out)",
			sess.CallSID, sess.Duration().Round(time.Second), sess.framesIn, sess.framesOut)
	}()

	// Configuration is sent once, after a short settle delay, so it does
	// not race the realtime connection's readiness handshake. The
	// greeting is mandated inside the instructions; nothing is injected
	// as a separate forced turn.
	settle := time.NewTimer(b.cfg.SettleDelay)
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			b.finish(sess, false)
			return nil

		case <-settle.C:
			update := protocol.NewSessionUpdate(instructions, b.cfg.Voice, b.cfg.Temperature)
			if err := rt.Send(update); err != nil {
				b.recordError(sess, fmt.Sprintf("session configuration failed: %v", err))
				return fmt.Errorf("send session update: %w", err)
			}

		case ev, ok := <-telIn:
			if !ok {
				// Abnormal disconnect: run the same cleanup, but a bare
				// close is not a completion signal.
				b.metrics.CallEvents.WithLabelValues("abnormal_close").Inc()
				if idle, ok := sess.MediaIdle(time.Now()); ok {
					log.Printf("[bridge] call=%s stream dropped without stop, last inbound audio %s ago",
						sess.CallSID, idle.Round(time.Millisecond))
				}
				b.finish(sess, false)
				return nil
			}
			switch msg := ev.(type) {
			case protocol.StreamMedia:
				sess.noteMedia(time.Now())
				if err := rt.Send(protocol.NewInputAudioAppend(msg.Media.Payload)); err != nil {
					b.recordError(sess, fmt.Sprintf("realtime send failed: %v", err))
					return fmt.Errorf("forward audio: %w", err)
				}
				b.metrics.RelayedFrames.WithLabelValues("telephony_to_ai").Inc()
			case protocol.StreamStop:
				b.metrics.CallEvents.WithLabelValues("completed").Inc()
				b.finish(sess, true)
				return nil
			case protocol.StreamConnected, protocol.StreamStart:
				// Already started; nothing to do.
			default:
				log.Printf("[bridge] call=%s dropping unexpected telephony event %T", sess.CallSID, ev)
				b.metrics.DroppedEvents.WithLabelValues("telephony").Inc()
			}

		case ev, ok := <-rt.Events():
			if !ok {
				b.metrics.CallEvents.WithLabelValues("realtime_error").Inc()
				b.recordError(sess, "realtime connection closed while call was live")
				return fmt.Errorf("realtime connection closed while call was live")
			}
			switch msg := ev.(type) {
			case protocol.ResponseAudioDelta:
				sess.cancelSent = false
				if !b.send(ctx, telOut, protocol.NewOutboundMedia(sess.StreamSID, msg.Delta)) {
					b.finish(sess, false)
					return nil
				}
				sess.framesOut++
				b.metrics.RelayedFrames.WithLabelValues("ai_to_telephony").Inc()
			case protocol.SpeechStarted:
				// Barge-in: one cancel to the AI side and one clear to
				// the telephony side, applied before any further audio
				// is relayed on this bridge.
				if sess.cancelSent {
					continue
				}
				sess.cancelSent = true
				if err := rt.Send(protocol.NewResponseCancel()); err != nil {
					b.recordError(sess, fmt.Sprintf("barge-in cancel failed: %v", err))
					return fmt.Errorf("send response cancel: %w", err)
				}
				if !b.send(ctx, telOut, protocol.NewOutboundClear(sess.StreamSID)) {
					b.finish(sess, false)
					return nil
				}
				b.metrics.BargeIns.Inc()
				log.Printf("[bridge] call=%s user barge-in, cancelled assistant turn", sess.CallSID)
			case protocol.InputTranscriptionDone:
				sess.AppendUtterance("User", msg.Transcript)
			case protocol.OutputTranscriptDone:
				sess.AppendUtterance("Assistant", msg.Transcript)
				sess.cancelSent = false
				// Persist the transcript-so-far at every assistant turn
				// so an interruption cannot lose the call's record.
				b.queueFlush(flushCh, sess.Transcript())
			default:
				log.Printf("[bridge] call=%s dropping unexpected realtime event %T", sess.CallSID, ev)
				b.metrics.DroppedEvents.WithLabelValues("realtime").Inc()
			}
		}
	}
}

// awaitStart consumes telephony events until the start event arrives and
// the stream/call identifiers are known.
func (b *Bridge) awaitStart(ctx context.Context, telIn <-chan any) (*Session, bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case ev, ok := <-telIn:
			if !ok {
				return nil, false
			}
			switch msg := ev.(type) {
			case protocol.StreamStart:
				return newSession(msg.Start.CallSID, msg.Start.StreamSID, ""), true
			case protocol.StreamConnected:
				// Handshake banner; keep waiting.
			default:
				// Audio cannot be addressed before the identifiers are
				// known; anything early is dropped.
				log.Printf("[bridge] dropping pre-start telephony event %T", ev)
				b.metrics.DroppedEvents.WithLabelValues("telephony").Inc()
			}
		}
	}
}

// send writes to the telephony outbound channel, giving up only when the
// connection context ends.
func (b *Bridge) send(ctx context.Context, out chan<- any, msg any) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// queueFlush hands the latest transcript snapshot to the flush worker
// without ever blocking the relay path. Only the newest snapshot matters,
// so a pending older one is replaced.
func (b *Bridge) queueFlush(flushCh chan string, snapshot string) {
	for {
		select {
		case flushCh <- snapshot:
			return
		default:
			select {
			case <-flushCh:
			default:
			}
		}
	}
}

// flushWorker serializes mid-call transcript writes so a newer snapshot
// can never be overwritten by an older in-flight one. Failures are logged
// and retried at the next natural write point.
func (b *Bridge) flushWorker(recordID string, flushCh <-chan string, done chan<- struct{}) {
	defer close(done)
	for snapshot := range flushCh {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := b.tracker.RecordTranscript(ctx, recordID, snapshot)
		cancel()
		if err != nil {
			log.Printf("[bridge] transcript flush failed: %v", err)
			b.metrics.PersistFailures.WithLabelValues("transcript").Inc()
		}
	}
}

// finish marks the session's terminal disposition. A stop event records
// the terminal completed status; an abnormal close releases resources
// without fabricating a completion. The final transcript flush happens in
// Run's deferred cleanup, after the flush worker has drained.
func (b *Bridge) finish(sess *Session, completed bool) {
	if !completed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := b.tracker.RecordStatus(ctx, sess.RecordID, calllog.StatusCompleted, ""); err != nil {
		log.Printf("[bridge] call=%s completed status write failed: %v", sess.CallSID, err)
		b.metrics.PersistFailures.WithLabelValues("status").Inc()
	}
}

// recordError marks the session failed in persistence. Best effort: the
// failure is already being reported to the caller.
func (b *Bridge) recordError(sess *Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := b.tracker.RecordStatus(ctx, sess.RecordID, calllog.StatusError, reason); err != nil {
		log.Printf("[bridge] call=%s error status write failed: %v", sess.CallSID, err)
		b.metrics.PersistFailures.WithLabelValues("status").Inc()
	}
}
