package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petems/meetscribe/internal/audio"
)

// fakeServer records what a client sends and answers CloseStream with a
// final result before closing.
type fakeServer struct {
	t *testing.T

	mu         sync.Mutex
	query      map[string]string
	auth       string
	audioBytes int
	control    []string
}

func (f *fakeServer) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.auth = r.Header.Get("Authorization")
	f.query = map[string]string{}
	for k := range r.URL.Query() {
		f.query[k] = r.URL.Query().Get(k)
	}
	f.mu.Unlock()

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			f.mu.Lock()
			f.audioBytes += len(data)
			f.mu.Unlock()
			_ = conn.WriteMessage(websocket.TextMessage, []byte(
				`{"type":"Results","is_final":false,"start":0,"duration":0.1,"channel":{"alternatives":[{"transcript":"partial"}]}}`))
			continue
		}

		var msg map[string]string
		if err := json.Unmarshal(data, &msg); err != nil {
			f.t.Errorf("bad control message %q", data)
			return
		}
		f.mu.Lock()
		f.control = append(f.control, msg["type"])
		f.mu.Unlock()

		if msg["type"] == "CloseStream" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(
				`{"type":"Results","is_final":true,"start":0,"duration":1,"channel":{"alternatives":[{"transcript":"all done","confidence":0.9,"words":[{"speaker":0}]}]}}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (f *fakeServer) snapshot() (map[string]string, string, int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.query, f.auth, f.audioBytes, append([]string(nil), f.control...)
}

func startServer(t *testing.T) (*fakeServer, string) {
	t.Helper()
	f := &fakeServer{t: t}
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientRoundTrip(t *testing.T) {
	f, url := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, Options{
		URL:       url,
		Token:     "secret",
		Interim:   true,
		KeepAlive: time.Hour,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	// 100ms of 48kHz stereo becomes 1600 mono frames at 16kHz
	buf := audio.Buffer{
		Samples: make([]float32, 2*4800),
		Format:  audio.SampleSpec{SampleRate: 48000, Channels: 2, Encoding: audio.Float32LE},
	}
	require.NoError(t, c.Send(buf))

	var segments []Segment
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for seg := range c.Results() {
			segments = append(segments, seg)
		}
	}()

	require.NoError(t, c.Close())
	select {
	case <-collected:
	case <-time.After(5 * time.Second):
		t.Fatal("results channel was not closed")
	}

	query, auth, audioBytes, control := f.snapshot()
	assert.Equal(t, "Token secret", auth)
	assert.Equal(t, "linear16", query["encoding"])
	assert.Equal(t, "16000", query["sample_rate"])
	assert.Equal(t, "1", query["channels"])
	assert.Equal(t, "true", query["interim_results"])
	assert.Equal(t, DefaultModel, query["model"])
	assert.Equal(t, 3200, audioBytes)
	assert.Equal(t, []string{"CloseStream"}, control)
	assert.Equal(t, int64(3200), c.BytesSent())

	require.NotEmpty(t, segments)
	last := segments[len(segments)-1]
	assert.True(t, last.Final)
	assert.Equal(t, "all done", last.Text)
	assert.Equal(t, 0, last.Speaker)
	assert.NoError(t, c.Err())

	assert.ErrorIs(t, c.Send(buf), ErrClosed)
	assert.NoError(t, c.Close())
}

func TestClientKeepAliveWhenIdle(t *testing.T) {
	f, url := startServer(t)

	c, err := Dial(context.Background(), Options{URL: url, KeepAlive: 20 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, _, control := f.snapshot()
		return len(control) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	_, _, _, control := f.snapshot()
	assert.Equal(t, "KeepAlive", control[0])
	assert.Equal(t, "CloseStream", control[len(control)-1])
}

func TestDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestEndpoint(t *testing.T) {
	got, err := Endpoint(Options{URL: "wss://example.test/v1/listen?tier=x", Model: "m", Language: "en", Diarize: true, SampleRate: 8000})
	require.NoError(t, err)
	assert.Contains(t, got, "wss://example.test/v1/listen?")
	for _, want := range []string{"tier=x", "model=m", "language=en", "diarize=true", "sample_rate=8000", "interim_results=false"} {
		assert.Contains(t, got, want)
	}

	_, err = Endpoint(Options{URL: "://bad"})
	assert.Error(t, err)
}
