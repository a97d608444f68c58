package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"error":   LevelError,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"":        LevelInfo,
		"info":    LevelInfo,
		"Verbose": LevelVerbose,
		"trace":   LevelVerbose,
		"debug":   LevelDebug,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelOrderingOnSlogScale(t *testing.T) {
	levels := []Level{LevelError, LevelWarn, LevelInfo, LevelVerbose, LevelDebug}
	for i := 1; i < len(levels); i++ {
		assert.Less(t, levels[i].Slog(), levels[i-1].Slog(), "%s should be more verbose than %s", levels[i], levels[i-1])
	}
}

func TestLevelTextRoundTrip(t *testing.T) {
	var l Level
	require.NoError(t, l.UnmarshalText([]byte("verbose")))
	b, err := l.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "verbose", string(b))
}

func TestSlogLineFuncFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info"}, &buf)
	require.NoError(t, err)

	fn := SlogLineFunc(l, "stream", "stdout")
	fn("shown", LevelInfo)
	fn("hidden", LevelVerbose)
	fn("problem", LevelError)

	out := buf.String()
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "stream=stdout")
	assert.Contains(t, out, "level=ERROR")
	assert.NotContains(t, out, "hidden")
}

func TestVerboseLevelIsNamed(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "verbose", Format: "json"}, &buf)
	require.NoError(t, err)
	l.Log(context.Background(), SlogVerbose, "detail")
	assert.True(t, strings.Contains(buf.String(), `"level":"VERBOSE"`), buf.String())
}

func TestColorHandlerPrefixesLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Color: true}, &buf)
	require.NoError(t, err)
	l.With("k", "v").Log(context.Background(), SlogDebug, "x")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "k=v")
	assert.NotContains(t, buf.String(), "level=")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"}, nil)
	assert.Error(t, err)
	_, err = New(Config{Level: "nope"}, nil)
	assert.Error(t, err)
}
