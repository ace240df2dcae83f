package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// Minimal TwiML builder for the one response this service issues: connect
// the answered call to our media-stream socket. No provider SDK needed.

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// StreamTwiML renders the instruction that opens a media stream to the
// given public domain once the outbound call is answered.
func StreamTwiML(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", errors.New("public domain required for media stream")
	}

	r := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{URL: fmt.Sprintf("wss://%s/media-stream", domain)},
		},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
