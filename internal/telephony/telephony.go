// Package telephony implements §6's "Telephony WebSocket (ingress)" wire
// format: the JSON control-message grammar exchanged with the telephony
// peer, and a thin transport wrapper over gorilla/websocket in the style of
// the teacher's cartesia speech transformer (connection held behind a
// mutex, ReadMessage loop on a dedicated goroutine).
package telephony

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseCode enumerates the §6 close codes the bridge emits.
type CloseCode int

const (
	CloseNormal          CloseCode = 1000
	CloseInvalidMessage  CloseCode = 1003
	ClosePolicyViolation CloseCode = 1008
	CloseInternal        CloseCode = 1011
)

// InboundMessage is the JSON control message shape received from the
// telephony peer. Only the fields relevant to Event are populated.
type InboundMessage struct {
	Event string `json:"event"`

	StreamSid string `json:"streamSid"`

	Start *StartPayload `json:"start,omitempty"`
	Media *MediaPayload `json:"media,omitempty"`
	Mark  *MarkPayload  `json:"mark,omitempty"`
	DTMF  *DTMFPayload  `json:"dtmf,omitempty"`
}

type StartPayload struct {
	CallSid      string `json:"callSid"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

type MediaPayload struct {
	Track   string `json:"track"`
	Payload string `json:"payload"` // base64 μ-law@8k
}

type MarkPayload struct {
	Name string `json:"name"`
}

type DTMFPayload struct {
	Digit string `json:"digit"`
}

// Parse decodes one inbound text frame, returning a bridgeerr-classifiable
// error on malformed JSON (§7 Protocol-violation).
func Parse(raw []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("telephony: malformed control message: %w", err)
	}
	if msg.Event == "" {
		return InboundMessage{}, fmt.Errorf("telephony: missing event discriminator")
	}
	return msg, nil
}

// IncludesInboundTrack reports whether a media message's track list
// includes "inbound", per §6's requirement on the media event.
func (m InboundMessage) IncludesInboundTrack() bool {
	return m.Media != nil && m.Media.Track == "inbound"
}

// Conn wraps a *websocket.Conn with the narrow read/write surface
// InputFlow and OutputPacer need, serializing writes behind a mutex the
// way the teacher's cartesiaSpeechToText does around its *websocket.Conn.
type Conn struct {
	mu  sync.Mutex
	ws  *websocket.Conn
	sid string
}

// NewConn wraps an already-upgraded websocket connection. The stream
// identifier used on outbound messages is not known until the peer's
// "start" handshake is read and validated; callers set it via SetStreamSid
// once that happens.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// SetStreamSid records the streamSid to stamp on outbound "media"/"mark"
// messages, once the "start" handshake has been validated.
func (c *Conn) SetStreamSid(streamSid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sid = streamSid
}

// ReadMessage blocks for the next text frame from the peer.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Writable reports whether the connection still appears open. gorilla's
// *websocket.Conn has no explicit writability probe; this tracks whether
// Close has been called locally.
func (c *Conn) Writable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// SendMedia emits the §6 outbound "media" message.
func (c *Conn) SendMedia(seqNumber uint64, base64Payload string) error {
	return c.writeJSON(map[string]any{
		"event":     "media",
		"streamSid": c.sid,
		"media":     map[string]string{"payload": base64Payload},
		"sequenceNumber": fmt.Sprintf("%d", seqNumber),
	})
}

// SendMark emits the §6 outbound "mark" message.
func (c *Conn) SendMark(token string) error {
	return c.writeJSON(map[string]any{
		"event":     "mark",
		"streamSid": c.sid,
		"mark":      map[string]string{"name": token},
	})
}

func (c *Conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("telephony: connection already closed")
	}
	return c.ws.WriteJSON(v)
}

// CloseWithCode closes the connection with one of the §6 close codes.
func (c *Conn) CloseWithCode(code CloseCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	payload := websocket.FormatCloseMessage(int(code), reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, payload, time.Now().Add(time.Second))
	err := c.ws.Close()
	c.ws = nil
	return err
}
