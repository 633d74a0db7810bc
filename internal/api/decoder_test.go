package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contents(incs []Increment) []string {
	out := make([]string, len(incs))
	for i, inc := range incs {
		out[i] = inc.Content
	}
	return out
}

func TestDecoderBuffersPartialLines(t *testing.T) {
	var reported []*DecodeError
	d := NewDecoder(&ChatStrategy{}, func(e *DecodeError) { reported = append(reported, e) })

	assert.Empty(t, d.Feed([]byte(`data: {"choices":[{"delta":{"con`)))
	assert.Equal(t, 0, d.Attempts(), "nothing parsed before the newline")

	got := d.Feed([]byte("tent\":\"Hello\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n"))
	assert.Equal(t, []string{"Hello", " there"}, contents(got))
	assert.Equal(t, 2, d.Attempts())
	assert.Empty(t, reported)
}

func TestDecoderCountsOnlyMarkedNonTerminatorLines(t *testing.T) {
	d := NewDecoder(&ChatStrategy{}, nil)
	input := ": keep-alive comment\n" +
		"event: message\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\r\n" +
		"data:{\"choices\":[{\"delta\":{}}]}\n" +
		"data: {\"choices\":[]}\n" +
		"data: not json\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n" +
		"data: [DONE]\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n"

	got := d.Feed([]byte(input))
	assert.Equal(t, []string{"a", "", "", "b"}, contents(got))
	assert.Equal(t, 5, d.Attempts())
	require.Len(t, d.Failures(), 1)
	assert.Equal(t, "not json", d.Failures()[0].Line)
	assert.True(t, d.Done())
	assert.Nil(t, d.Feed([]byte("data: {}\n")))
}

func TestDecoderOneMalformedAmongMany(t *testing.T) {
	d := NewDecoder(&ChatStrategy{}, nil)
	var input string
	for i := 0; i < 10; i++ {
		input += `data: {"choices":[{"delta":{"content":"word"}}]}` + "\n"
		if i == 4 {
			input += `data: {"choices":[{"delta":` + "\n"
		}
	}

	got := d.Feed([]byte(input))
	assert.Len(t, got, 10)
	assert.Equal(t, 11, d.Attempts())
	assert.Len(t, d.Failures(), 1)
}

func TestDecoderFlush(t *testing.T) {
	d := NewDecoder(&ChatStrategy{}, nil)
	assert.Empty(t, d.Feed([]byte(`data: {"choices":[{"delta":{"content":"tail"}}]}`)))
	assert.Equal(t, []string{"tail"}, contents(d.Flush()))
	assert.Nil(t, d.Flush())
}

func TestDecodeErrorMessage(t *testing.T) {
	d := NewDecoder(&ChatStrategy{}, nil)
	d.Feed([]byte("data: {broken\n"))
	require.Len(t, d.Failures(), 1)
	assert.Contains(t, d.Failures()[0].Error(), "malformed event")
	assert.NotNil(t, d.Failures()[0].Unwrap())
}
