package handlers

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/fanout"
)

func TestPumpWritesServerSentEvents(t *testing.T) {
	var buf bytes.Buffer
	ch := make(chan fanout.Message, 2)
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	ch <- fanout.Delta(fanout.SourceDirect, fanout.ReasonTransition, "ext-1", domain.StateSpam, "", nil, at)
	ch <- fanout.Hint([]string{"ext-1", "ext-2"}, []string{"status"}, domain.StateSpam, at)
	close(ch)

	err := pump(context.Background(), bufio.NewWriter(&buf), time.Hour, ch, func(m fanout.Message) string { return string(m.Kind) })
	require.NoError(t, err)

	out := buf.String()
	require.True(t, strings.HasPrefix(out, ": connected\n\n"))
	require.Contains(t, out, "event: delta\ndata: {")
	require.Contains(t, out, `"id":"ext-1"`)
	require.Contains(t, out, "event: hint\ndata: {")
	require.Equal(t, 2, strings.Count(out, "event: "))
}

func TestPumpStopsOnContextAndHeartbeats(t *testing.T) {
	var buf bytes.Buffer
	ch := make(chan fanout.Message)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := pump(ctx, bufio.NewWriter(&buf), 10*time.Millisecond, ch, func(m fanout.Message) string { return string(m.Kind) })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, buf.String(), ": ping\n\n")
}
