package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func waitForClients(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.ClientCount() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestHandleSSE_StreamsBroadcasts(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	event, data := readEvent(t, r)
	assert.Equal(t, EventConnected, event)
	assert.Contains(t, data, "client-1")

	waitForClients(t, b, 1)
	b.Broadcast(EventSets, []string{"a", "b"})

	event, data = readEvent(t, r)
	assert.Equal(t, EventSets, event)
	assert.Equal(t, `["a","b"]`, data)
}

func TestHandleSSE_ReplaysLastMessage(t *testing.T) {
	b := NewBroadcaster()
	b.Broadcast(EventSets, map[string]int{"count": 2})

	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	_, _ = readEvent(t, r)
	event, data := readEvent(t, r)
	assert.Equal(t, EventSets, event)
	assert.Equal(t, `{"count":2}`, data)
}

func TestHandleSSE_ClientRemovedOnDisconnect(t *testing.T) {
	b := NewBroadcaster()
	srv := httptest.NewServer(http.HandlerFunc(b.HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	waitForClients(t, b, 1)
	cancel()
	resp.Body.Close()
	waitForClients(t, b, 0)
}

func TestAddClient_RequiresFlusher(t *testing.T) {
	b := NewBroadcaster()
	_, err := b.AddClient(nonFlusher{httptest.NewRecorder()})
	assert.Error(t, err)
}

type nonFlusher struct{ w http.ResponseWriter }

func (n nonFlusher) Header() http.Header         { return n.w.Header() }
func (n nonFlusher) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nonFlusher) WriteHeader(code int)        { n.w.WriteHeader(code) }

func TestRelay(t *testing.T) {
	b := NewBroadcaster()
	rec := httptest.NewRecorder()
	client, err := b.AddClient(rec)
	require.NoError(t, err)
	defer b.RemoveClient(client)

	updates := make(chan []int, 2)
	updates <- []int{1}
	updates <- []int{1, 2}
	close(updates)

	Relay(context.Background(), b, updates)

	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: sets\n"))
	assert.Contains(t, body, "data: [1,2]\n\n")
}
