// Package voice defines the frames exchanged with the transport and
// speech collaborators: inbound events produced by speech-to-text or
// the client, and outbound directives consumed by text-to-speech.
package voice

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventKind classifies inbound events.
type EventKind string

const (
	// KindTranscription carries finalized user speech as text.
	KindTranscription EventKind = "transcription"
	// KindControl carries transport signals such as speaking markers or
	// hangup; it never carries user text.
	KindControl EventKind = "control"
)

// Control signal names carried by KindControl events.
const (
	ControlUserStartedSpeaking = "user_started_speaking"
	ControlUserStoppedSpeaking = "user_stopped_speaking"
	ControlHangup              = "hangup"
)

// ErrMalformed is wrapped by [Event.Validate] failures.
var ErrMalformed = errors.New("malformed event")

// Event is one inbound frame.
type Event struct {
	Kind      EventKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	Control   string    `json:"control,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcription returns a transcription event stamped now.
func Transcription(text string) Event {
	return Event{Kind: KindTranscription, Text: text, Timestamp: time.Now()}
}

// ControlSignal returns a control event stamped now.
func ControlSignal(name string) Event {
	return Event{Kind: KindControl, Control: name, Timestamp: time.Now()}
}

// IsText reports whether the event carries user speech.
func (e Event) IsText() bool {
	return e.Kind == KindTranscription
}

// Validate checks required fields. Transcriptions need non-blank text;
// control events need a signal name. A missing timestamp is not an
// error; receivers stamp the event on arrival.
func (e Event) Validate() error {
	switch e.Kind {
	case KindTranscription:
		if strings.TrimSpace(e.Text) == "" {
			return fmt.Errorf("%w: transcription without text", ErrMalformed)
		}
	case KindControl:
		if e.Control == "" {
			return fmt.Errorf("%w: control event without signal", ErrMalformed)
		}
	case "":
		return fmt.Errorf("%w: missing kind", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, e.Kind)
	}
	return nil
}

// DirectiveKind classifies outbound directives.
type DirectiveKind string

const (
	// DirectiveSpeak asks text-to-speech to say Text.
	DirectiveSpeak DirectiveKind = "speak"
	// DirectiveEnd tells the transport the conversation is over.
	DirectiveEnd DirectiveKind = "end"
)

// Directive is one outbound frame.
type Directive struct {
	Kind DirectiveKind `json:"kind"`
	Text string        `json:"text,omitempty"`
}

// Speak returns a speak directive.
func Speak(text string) Directive {
	return Directive{Kind: DirectiveSpeak, Text: text}
}

// End returns an end directive.
func End() Directive {
	return Directive{Kind: DirectiveEnd}
}
