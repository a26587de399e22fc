package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineCapturer_ReadsLines(t *testing.T) {
	prompts := 0
	c := NewLineCapturer(strings.NewReader("查询上海天气\n  确认  \n"), func() { prompts++ })
	require.NoError(t, c.Supported())

	ctx := context.Background()
	text, err := c.Listen(ctx)
	require.NoError(t, err)
	assert.Equal(t, "查询上海天气", text)

	text, err = c.Listen(ctx)
	require.NoError(t, err)
	assert.Equal(t, "确认", text)

	_, err = c.Listen(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, prompts)
}

func TestLineCapturer_Unsupported(t *testing.T) {
	c := NewLineCapturer(nil, nil)
	assert.ErrorIs(t, c.Supported(), ErrUnsupported)
	_, err := c.Listen(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestLineCapturer_ContextCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := NewLineCapturer(r, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Listen(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The next line is still delivered to a later Listen.
	go func() { _, _ = w.Write([]byte("好的\n")) }()
	text, err := c.Listen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "好的", text)
}

func TestTextSpeaker(t *testing.T) {
	var said []string
	s := NewTextSpeaker(func(text string) { said = append(said, text) })
	require.NoError(t, s.Supported())
	require.NoError(t, s.Speak(context.Background(), "上海今天多云"))
	assert.Equal(t, []string{"上海今天多云"}, said)
	assert.False(t, s.Speaking())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Speak(ctx, "late"))
	assert.Len(t, said, 1)
}

func TestTextSpeaker_Unsupported(t *testing.T) {
	s := NewTextSpeaker(nil)
	assert.True(t, errors.Is(s.Supported(), ErrUnsupported))
}

func TestCommandSpeaker_Unsupported(t *testing.T) {
	s := NewCommandSpeaker("", nil)
	assert.ErrorIs(t, s.Supported(), ErrUnsupported)

	s = NewCommandSpeaker("definitely-not-a-tts-binary-xyz", nil)
	assert.ErrorIs(t, s.Supported(), ErrUnsupported)
	assert.ErrorIs(t, s.Speak(context.Background(), "hi"), ErrUnsupported)
}

func TestCommandSpeaker_RunsCommand(t *testing.T) {
	var echoed string
	s := NewCommandSpeaker("true", func(text string) { echoed = text })
	if s.Supported() != nil {
		t.Skip("true(1) not available")
	}
	require.NoError(t, s.Speak(context.Background(), "你好"))
	assert.Equal(t, "你好", echoed)
	assert.False(t, s.Speaking())
	s.Stop()
}
