// Package speech abstracts speech-to-text capture and text-to-speech playback
// behind small capability interfaces.
package speech

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by Supported when the capability is unavailable.
var ErrUnsupported = errors.New("speech capability not supported")

// Capturer turns the user's next utterance into text.
type Capturer interface {
	// Supported reports whether capture can work at all.
	Supported() error
	// Listen blocks until one utterance is recognized, recognition fails,
	// or ctx is done. Cancelling ctx stops listening.
	Listen(ctx context.Context) (string, error)
}

// Speaker reads text aloud.
type Speaker interface {
	Supported() error
	// Speak blocks until playback has finished.
	Speak(ctx context.Context, text string) error
	// Stop interrupts any playback in progress.
	Stop()
	Speaking() bool
}
