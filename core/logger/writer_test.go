package logger

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAsyncWriterFansOut(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	w := newAsyncWriter([]io.Writer{a, nil, b}, 16)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Write([]byte("line\n")))
		}()
	}
	wg.Wait()
	require.NoError(t, w.Flush())

	assert.Equal(t, 50, strings.Count(a.String(), "line\n"))
	assert.Equal(t, a.String(), b.String())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Write([]byte("late\n")), errWriterClosed)
}

func TestAsyncWriterReportsFirstError(t *testing.T) {
	w := newAsyncWriter([]io.Writer{failingWriter{}}, 1)
	_ = w.Write([]byte("x\n"))
	assert.EqualError(t, w.Close(), "disk full")
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(2, 5)
	passed := 0
	for i := 0; i < 10; i++ {
		if s.Allow() {
			passed++
		}
	}
	assert.Equal(t, 4, passed)

	s.Set(0, 0)
	assert.True(t, s.Allow())
	s.Set(9, 3)
	assert.True(t, s.Allow())
}

func TestParseRatioSpec(t *testing.T) {
	tests := []struct {
		in       string
		num, den int
	}{
		{"", 0, 0},
		{"10", 1, 10},
		{"3/7", 3, 7},
		{" 1 / 2 ", 1, 2},
		{"x/2", 0, 0},
		{"-4", 0, 0},
	}
	for _, tt := range tests {
		num, den := parseRatioSpec(tt.in)
		assert.Equal(t, tt.num, num, tt.in)
		assert.Equal(t, tt.den, den, tt.in)
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a\tb\nc", Sanitize("a\tb\nc\x00\x7f\u200b"))
	assert.Equal(t, "héll…", SanitizeLimit("héllo", 4))
	assert.Equal(t, "ok", SanitizeLimit("ok", 0))
}
