// Package speech defines the port to the voice-assistant platform under test.
package speech

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every failure to obtain a response from the platform.
var ErrUnavailable = errors.New("speech interface unavailable")

// Info carries per-request routing and the inbound conversation memory.
type Info struct {
	Language string         `json:"language"`
	State    map[string]any `json:"conversation_state,omitempty"`
}

// Request is one turn sent to the assistant. Either Utterance or Audio is set.
type Request struct {
	Utterance string `json:"utterance,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
	Info      Info   `json:"request_info"`
}

// Response is the assistant's answer.
type Response struct {
	Transcript          string         `json:"transcript"`
	FormattedTranscript string         `json:"formatted_transcript"`
	SpokenResponse      string         `json:"spoken_response"`
	Classification      string         `json:"classification_label"`
	Confidence          float64        `json:"confidence"`
	State               map[string]any `json:"conversation_state"`
	Entities            map[string]any `json:"entities"`
}

// Interface queries the assistant platform.
type Interface interface {
	Query(ctx context.Context, req Request) (*Response, error)
}

// Synthesizer renders an utterance to audio before it is sent. Optional:
// without one, the utterance text is sent as is.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}
