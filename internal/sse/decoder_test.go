package sse_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkrelay/reasoning-gateway/internal/sse"
)

func feedAll(t *testing.T, dec *sse.Decoder, chunks ...string) []string {
	t.Helper()
	var out []string
	for _, chunk := range chunks {
		for _, payload := range dec.Feed([]byte(chunk)) {
			out = append(out, string(payload))
		}
	}
	return out
}

func TestDecoderWholeFrames(t *testing.T) {
	dec := sse.NewDecoder()
	got := feedAll(t, dec, "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n")
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, got)
}

func TestDecoderFrameSplitAcrossChunks(t *testing.T) {
	dec := sse.NewDecoder()

	got := feedAll(t, dec, "data: {\"del", "ta\":\"hi\"}", "\n\n")
	assert.Equal(t, []string{`{"delta":"hi"}`}, got)
}

func TestDecoderByteAtATime(t *testing.T) {
	dec := sse.NewDecoder()
	const stream = "data: one\n\ndata: two\n\n"

	var got []string
	for i := 0; i < len(stream); i++ {
		got = append(got, feedAll(t, dec, stream[i:i+1])...)
	}
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestDecoderCRLFDelimiters(t *testing.T) {
	dec := sse.NewDecoder()
	got := feedAll(t, dec, "data: a\r\n\r\ndata: b\r\n\r\n")
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestDecoderDoneSentinel(t *testing.T) {
	dec := sse.NewDecoder()

	got := feedAll(t, dec, "data: last\n\ndata: [DONE]\n\ndata: after\n\n")
	assert.Equal(t, []string{"last"}, got)
	assert.True(t, dec.Done())

	// Nothing further is yielded once the sentinel is seen.
	assert.Empty(t, feedAll(t, dec, "data: more\n\n"))
	assert.Nil(t, dec.Flush())
}

func TestDecoderMultipleDataLinesJoined(t *testing.T) {
	dec := sse.NewDecoder()
	got := feedAll(t, dec, "data: line1\ndata: line2\n\n")
	assert.Equal(t, []string{"line1\nline2"}, got)
}

func TestDecoderCommentFramesDropped(t *testing.T) {
	dec := sse.NewDecoder()
	got := feedAll(t, dec, ": keep-alive\n\ndata: real\n\n")
	assert.Equal(t, []string{"real"}, got)
}

func TestDecoderFrameWithoutDataPrefix(t *testing.T) {
	// Some upstreams ship bare JSON lines without the data: prefix.
	dec := sse.NewDecoder()
	got := feedAll(t, dec, "{\"raw\":true}\n\n")
	assert.Equal(t, []string{`{"raw":true}`}, got)
}

func TestDecoderEventLinesIgnored(t *testing.T) {
	dec := sse.NewDecoder()
	got := feedAll(t, dec, "event: message\ndata: payload\n\n")
	assert.Equal(t, []string{"payload"}, got)
}

func TestDecoderFlushDeliversTrailingFrame(t *testing.T) {
	dec := sse.NewDecoder()

	assert.Empty(t, feedAll(t, dec, "data: unterminated"))
	assert.Equal(t, "unterminated", string(dec.Flush()))
}

func TestDecoderIdempotentAcrossSplits(t *testing.T) {
	// Mixed delimiters, multi-line data, a comment frame and the sentinel.
	const stream = "data: {\"a\":1}\n\n" +
		"data: line1\ndata: line2\n\n" +
		": keep-alive\n\n" +
		"data: {\"b\":2}\r\n\r\n" +
		"data: [DONE]\n\n"

	whole := feedAll(t, sse.NewDecoder(), stream)
	require.NotEmpty(t, whole)

	// The same bytes fed one at a time yield the identical ordered sequence.
	dec := sse.NewDecoder()
	var byByte []string
	for i := 0; i < len(stream); i++ {
		byByte = append(byByte, feedAll(t, dec, stream[i:i+1])...)
	}
	assert.Equal(t, whole, byByte)

	// A second fresh pass over the same completed stream reproduces it.
	assert.Equal(t, whole, feedAll(t, sse.NewDecoder(), stream))
}

func TestScannerReadsFramesInOrder(t *testing.T) {
	r := strings.NewReader("data: one\n\ndata: two\n\ndata: [DONE]\n\n")
	sc := sse.NewScanner(r)

	p, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", string(p))

	p, err = sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", string(p))

	_, err = sc.Next()
	assert.Equal(t, io.EOF, err)
}

func TestScannerEOFWithoutSentinel(t *testing.T) {
	r := strings.NewReader("data: only\n\ndata: trailing")
	sc := sse.NewScanner(r)

	p, err := sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "only", string(p))

	// The unterminated tail is still delivered at connection end.
	p, err = sc.Next()
	require.NoError(t, err)
	assert.Equal(t, "trailing", string(p))

	_, err = sc.Next()
	assert.Equal(t, io.EOF, err)
}
