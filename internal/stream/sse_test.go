package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsSplitsOnBlankLines(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"b\":2}\n\n"
	events := Events(body)
	require.Len(t, events, 2)
	assert.Equal(t, `{"a":1}`, events[0])
	assert.Equal(t, `{"b":2}`, events[1])
}

func TestEventsJoinsConsecutiveDataLines(t *testing.T) {
	body := "data: {\"text\":\ndata: \"hello\"}\n\n"
	events := Events(body)
	require.Len(t, events, 1)
	assert.Equal(t, "{\"text\":\n\"hello\"}", events[0])
}

func TestEventsDropsOtherFields(t *testing.T) {
	body := "event: message\nid: 42\nretry: 3000\ndata: {\"a\":1}\n\n"
	events := Events(body)
	require.Len(t, events, 1)
	assert.Equal(t, `{"a":1}`, events[0])
}

func TestEventsFlushesTrailingEvent(t *testing.T) {
	events := Events("data: {\"a\":1}")
	require.Len(t, events, 1)
	assert.Equal(t, `{"a":1}`, events[0])
}

func TestEventsHandlesCRLF(t *testing.T) {
	events := Events("data: {\"a\":1}\r\n\r\n")
	require.Len(t, events, 1)
	assert.Equal(t, `{"a":1}`, events[0])
}

func TestEventsLargePayload(t *testing.T) {
	big := strings.Repeat("x", 300*1024)
	events := Events("data: {\"text\":\"" + big + "\"}\n\n")
	require.Len(t, events, 1)
	assert.Contains(t, events[0], big)
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal("[DONE]"))
	assert.True(t, Terminal(" [DONE] "))
	assert.True(t, Terminal("null"))
	assert.True(t, Terminal(""))
	assert.False(t, Terminal(`{"a":1}`))
}
