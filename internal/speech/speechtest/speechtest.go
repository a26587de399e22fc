// Package speechtest provides scripted speech adapters for tests.
package speechtest

import (
	"context"
	"errors"
	"sync"
)

// ErrExhausted is returned by Capturer.Listen when the script has run out.
var ErrExhausted = errors.New("speechtest: no more scripted utterances")

// Utterance is one scripted Listen result.
type Utterance struct {
	Text string
	Err  error
	// Block makes Listen wait for ctx instead of returning.
	Block bool
}

// Capturer replays scripted utterances in order.
type Capturer struct {
	mu          sync.Mutex
	script      []Utterance
	listens     int
	Unsupported error
}

// NewCapturer returns a capturer that yields the given texts in order.
func NewCapturer(texts ...string) *Capturer {
	c := &Capturer{}
	for _, t := range texts {
		c.script = append(c.script, Utterance{Text: t})
	}
	return c
}

// Push appends more scripted results.
func (c *Capturer) Push(u ...Utterance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, u...)
}

// Listens returns how many times Listen was called.
func (c *Capturer) Listens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listens
}

func (c *Capturer) Supported() error { return c.Unsupported }

func (c *Capturer) Listen(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.listens++
	if len(c.script) == 0 {
		c.mu.Unlock()
		return "", ErrExhausted
	}
	u := c.script[0]
	c.script = c.script[1:]
	c.mu.Unlock()

	if u.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return u.Text, u.Err
}

// Speaker records everything it is asked to speak.
type Speaker struct {
	mu          sync.Mutex
	spoken      []string
	stops       int
	Err         error
	Unsupported error
}

// NewSpeaker returns a speaker that always succeeds.
func NewSpeaker() *Speaker { return &Speaker{} }

func (s *Speaker) Supported() error { return s.Unsupported }

func (s *Speaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return s.Err
}

func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *Speaker) Speaking() bool { return false }

// Spoken returns a copy of every text passed to Speak.
func (s *Speaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

// Stops returns how many times Stop was called.
func (s *Speaker) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}
