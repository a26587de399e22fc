package speech

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// CommandSpeaker plays text through an external TTS program such as
// `say` or `espeak`. The text is passed as the last argument.
type CommandSpeaker struct {
	name string
	args []string
	echo func(string)

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCommandSpeaker parses a command line like "espeak -v zh". echo, if
// non-nil, also receives every spoken text.
func NewCommandSpeaker(command string, echo func(string)) *CommandSpeaker {
	fields := strings.Fields(command)
	s := &CommandSpeaker{echo: echo}
	if len(fields) > 0 {
		s.name = fields[0]
		s.args = fields[1:]
	}
	return s
}

func (s *CommandSpeaker) Supported() error {
	if s.name == "" {
		return fmt.Errorf("no TTS command configured: %w", ErrUnsupported)
	}
	if _, err := exec.LookPath(s.name); err != nil {
		return fmt.Errorf("TTS command %q not found: %w", s.name, ErrUnsupported)
	}
	return nil
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	if err := s.Supported(); err != nil {
		return err
	}
	if s.echo != nil {
		s.echo(text)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	args := append(append([]string{}, s.args...), text)
	out, err := exec.CommandContext(ctx, s.name, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", s.name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s *CommandSpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *CommandSpeaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
