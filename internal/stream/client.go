package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petems/meetscribe/internal/audio"
)

const (
	DefaultURL       = "wss://api.deepgram.com/v1/listen"
	DefaultModel     = "nova-2-meeting"
	DefaultKeepAlive = 8 * time.Second

	closeTimeout = 5 * time.Second
	writeTimeout = 10 * time.Second
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("stream closed")

var (
	keepAliveMsg   = map[string]string{"type": "KeepAlive"}
	closeStreamMsg = map[string]string{"type": "CloseStream"}
)

// Options configure a streaming session.
type Options struct {
	URL        string
	Token      string
	Model      string
	Language   string
	Diarize    bool
	Interim    bool
	SampleRate int
	KeepAlive  time.Duration
	Logger     zerolog.Logger

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Client is one open recognition session.
type Client struct {
	conn *websocket.Conn
	conv *Converter
	log  zerolog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
	sent    atomic.Int64

	results  chan Segment
	readDone chan struct{}
	quit     chan struct{}
	wg       sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Endpoint builds the session URL with the audio description the server
// needs to decode raw frames.
func Endpoint(opts Options) (string, error) {
	raw := opts.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse stream url: %w", err)
	}

	rate := opts.SampleRate
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("channels", "1")
	q.Set("interim_results", strconv.FormatBool(opts.Interim))
	q.Set("punctuate", "true")
	if opts.Diarize {
		q.Set("diarize", "true")
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a session.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	endpoint, err := Endpoint(opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Token "+opts.Token)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial stream: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial stream: %w", err)
	}

	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	c := &Client{
		conn:     conn,
		conv:     NewConverter(opts.SampleRate),
		log:      opts.Logger.With().Str("component", "stream").Logger(),
		results:  make(chan Segment, 64),
		readDone: make(chan struct{}),
		quit:     make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readMessages()
	go c.keepAlive(keepAlive)

	c.log.Info().Str("host", conn.RemoteAddr().String()).Int("sample_rate", c.conv.TargetRate()).
		Msg("Streaming session opened")
	return c, nil
}

// Results delivers segments until the session ends, then closes.
func (c *Client) Results() <-chan Segment {
	return c.results
}

// Send converts buf and writes it as one binary frame.
func (c *Client) Send(buf audio.Buffer) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	// converter state is guarded by writeMu too
	data := c.conv.Encode(buf)
	if len(data) == 0 {
		return nil
	}
	if err := c.write(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	c.sent.Add(int64(len(data)))
	return nil
}

// BytesSent counts audio bytes written so far.
func (c *Client) BytesSent() int64 {
	return c.sent.Load()
}

// Err returns the error that ended the read side, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close asks the server to flush, waits for its last results, then closes
// the connection. It is safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.writeMu.Lock()
	err := c.writeJSON(closeStreamMsg)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to request final results")
	}

	select {
	case <-c.readDone:
	case <-time.After(closeTimeout):
		c.log.Warn().Dur("timeout", closeTimeout).Msg("Server did not finish before timeout")
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		c.log.Debug().Err(err).Msg("Close frame not sent")
	}
	c.writeMu.Unlock()

	close(c.quit)
	closeErr := c.conn.Close()
	c.wg.Wait()

	c.log.Info().Int64("bytes", c.sent.Load()).Msg("Streaming session closed")
	return closeErr
}

func (c *Client) readMessages() {
	defer c.wg.Done()
	defer close(c.readDone)
	defer close(c.results)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.setErr(err)
				c.log.Error().Err(err).Msg("Streaming session failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		seg, ok, err := parseResult(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("Ignoring unreadable message")
			continue
		}
		if !ok {
			continue
		}

		select {
		case c.results <- seg:
		case <-c.quit:
			return
		}
	}
}

func (c *Client) keepAlive(every time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := c.sent.Load()
	for {
		select {
		case <-c.quit:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			sent := c.sent.Load()
			if sent != last {
				last = sent
				continue
			}
			if c.closed.Load() {
				return
			}
			c.writeMu.Lock()
			err := c.writeJSON(keepAliveMsg)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Msg("Failed to send keepalive")
			}
		}
	}
}

func (c *Client) write(msgType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(msgType, data)
}

func (c *Client) writeJSON(v interface{}) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}
