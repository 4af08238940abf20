package voice

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		ok    bool
	}{
		{"transcription", Transcription("hello"), true},
		{"control", ControlSignal(ControlHangup), true},
		{"blank text", Event{Kind: KindTranscription, Text: "  "}, false},
		{"control without signal", Event{Kind: KindControl}, false},
		{"missing kind", Event{Text: "hello"}, false},
		{"unknown kind", Event{Kind: "audio", Text: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrMalformed) {
				t.Fatalf("Validate() = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestIsText(t *testing.T) {
	if !Transcription("x").IsText() {
		t.Error("transcription should be text")
	}
	if ControlSignal(ControlUserStartedSpeaking).IsText() {
		t.Error("control should not be text")
	}
}
