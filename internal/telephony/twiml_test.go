package telephony

import (
	"strings"
	"testing"
)

func TestStreamTwiMLConnectsMediaStream(t *testing.T) {
	out, err := StreamTwiML("bridge.example.com")
	if err != nil {
		t.Fatalf("StreamTwiML: %v", err)
	}
	if !strings.Contains(out, `<Stream url="wss://bridge.example.com/media-stream">`) &&
		!strings.Contains(out, `<Stream url="wss://bridge.example.com/media-stream"/>`) {
		t.Fatalf("twiml missing stream url: %s", out)
	}
	if !strings.Contains(out, "<Connect>") {
		t.Fatalf("twiml missing Connect verb: %s", out)
	}
	if !strings.HasPrefix(out, "<?xml") {
		t.Fatalf("twiml missing xml header: %s", out)
	}
}

func TestStreamTwiMLRequiresDomain(t *testing.T) {
	if _, err := StreamTwiML("  "); err == nil {
		t.Fatalf("expected error for empty domain")
	}
}
