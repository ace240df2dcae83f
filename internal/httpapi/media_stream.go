package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aathul-raj/hermes/internal/protocol"
)

const (
	mediaReadLimit    = 2 << 20
	mediaReadTimeout  = 90 * time.Second
	mediaWriteTimeout = 10 * time.Second
)

// handleMediaStream accepts the telephony platform's media-stream socket
// and hands the connection to the bridge. The socket pump owns the wire;
// the bridge owns the call. They meet over the inbound/outbound channels
// so websocket writes stay single-threaded.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "bridge not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.CallEvents.WithLabelValues("ws_connected").Inc()
	log.Printf("[httpapi] media-stream connected from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := s.bridge.Run(ctx, inbound, outbound); err != nil {
			log.Printf("[httpapi] bridge run: %v", err)
		}
	}()

	// Once the bridge is done the socket has nothing left to say; poke
	// the read loop loose instead of waiting out its deadline.
	go func() {
		<-runDone
		cancel()
		_ = conn.SetReadDeadline(time.Now())
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(mediaWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(mediaReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(mediaReadTimeout))

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(mediaReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseTelephonyEvent(data)
		if err != nil {
			// Malformed or unknown events never tear down a live call.
			if !errors.Is(err, protocol.ErrUnsupportedEvent) {
				log.Printf("[httpapi] dropping malformed telephony event: %v", err)
			}
			s.metrics.DroppedEvents.WithLabelValues("telephony").Inc()
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.CallEvents.WithLabelValues("ws_disconnected").Inc()
	log.Printf("[httpapi] media-stream disconnected from %s", r.RemoteAddr)
}
