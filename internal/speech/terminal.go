package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// LineCapturer treats each line read from a terminal or pipe as one
// recognized utterance.
type LineCapturer struct {
	in     io.Reader
	prompt func()

	once  sync.Once
	lines chan lineResult
}

type lineResult struct {
	text string
	err  error
}

// NewLineCapturer reads utterances from in. prompt, if non-nil, is called
// before each Listen to cue the user.
func NewLineCapturer(in io.Reader, prompt func()) *LineCapturer {
	return &LineCapturer{in: in, prompt: prompt}
}

func (c *LineCapturer) Supported() error {
	if c.in == nil {
		return fmt.Errorf("no input attached: %w", ErrUnsupported)
	}
	return nil
}

// start launches the single reader goroutine. Lines are handed over one at a
// time so a cancelled Listen never loses the next utterance.
func (c *LineCapturer) start() {
	c.once.Do(func() {
		c.lines = make(chan lineResult)
		go func() {
			sc := bufio.NewScanner(c.in)
			for sc.Scan() {
				c.lines <- lineResult{text: strings.TrimSpace(sc.Text())}
			}
			err := sc.Err()
			if err == nil {
				err = io.EOF
			}
			for {
				c.lines <- lineResult{err: err}
			}
		}()
	})
}

func (c *LineCapturer) Listen(ctx context.Context) (string, error) {
	if err := c.Supported(); err != nil {
		return "", err
	}
	c.start()
	if c.prompt != nil {
		c.prompt()
	}
	select {
	case r := <-c.lines:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// TextSpeaker "speaks" by printing through a callback.
type TextSpeaker struct {
	say func(string)
}

// NewTextSpeaker creates a speaker that hands each text to say.
func NewTextSpeaker(say func(string)) *TextSpeaker {
	return &TextSpeaker{say: say}
}

func (s *TextSpeaker) Supported() error {
	if s.say == nil {
		return fmt.Errorf("no output attached: %w", ErrUnsupported)
	}
	return nil
}

func (s *TextSpeaker) Speak(ctx context.Context, text string) error {
	if err := s.Supported(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.say(text)
	return nil
}

func (s *TextSpeaker) Stop()          {}
func (s *TextSpeaker) Speaking() bool { return false }
