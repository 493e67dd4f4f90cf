package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxlink/pkg/audio"
)

const (
	// DefaultReadLimit bounds a single inbound message. One second of 48 kHz
	// PCM16 in base64 JSON fits comfortably.
	DefaultReadLimit = 1 << 20

	// DefaultWriteTimeout bounds a single outbound write.
	DefaultWriteTimeout = 5 * time.Second
)

// ConnOption configures a [Conn].
type ConnOption func(*connOptions)

type connOptions struct {
	readLimit      int64
	writeTimeout   time.Duration
	header         http.Header
	originPatterns []string
}

// WithReadLimit sets the maximum inbound message size in bytes.
func WithReadLimit(n int64) ConnOption {
	return func(o *connOptions) {
		if n > 0 {
			o.readLimit = n
		}
	}
}

// WithWriteTimeout bounds each Send.
func WithWriteTimeout(d time.Duration) ConnOption {
	return func(o *connOptions) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithHeader adds HTTP headers to the dial handshake.
func WithHeader(h http.Header) ConnOption {
	return func(o *connOptions) { o.header = h }
}

// WithOriginPatterns sets the host patterns accepted from browsers on Accept.
func WithOriginPatterns(patterns ...string) ConnOption {
	return func(o *connOptions) { o.originPatterns = patterns }
}

func buildOptions(opts []ConnOption) connOptions {
	o := connOptions{readLimit: DefaultReadLimit, writeTimeout: DefaultWriteTimeout}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Conn is a WebSocket carrying audio in both directions. Send may be called
// concurrently with ReadLoop; ReadLoop must run on one goroutine only.
type Conn struct {
	ws           *websocket.Conn
	codec        *Codec
	writeTimeout time.Duration
}

// Dial connects to url and returns a Conn using c for framing.
func Dial(ctx context.Context, url string, c *Codec, opts ...ConnOption) (*Conn, error) {
	o := buildOptions(opts)
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: o.header})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return newConn(ws, c, o), nil
}

// Accept upgrades an HTTP request to a Conn.
func Accept(w http.ResponseWriter, r *http.Request, c *Codec, opts ...ConnOption) (*Conn, error) {
	o := buildOptions(opts)
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: o.originPatterns})
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return newConn(ws, c, o), nil
}

func newConn(ws *websocket.Conn, c *Codec, o connOptions) *Conn {
	ws.SetReadLimit(o.readLimit)
	return &Conn{ws: ws, codec: c, writeTimeout: o.writeTimeout}
}

// Send encodes chunk and writes it.
func (c *Conn) Send(ctx context.Context, chunk audio.EncodedChunk) error {
	f, err := c.codec.Encode(chunk)
	if err != nil {
		return err
	}
	return c.write(ctx, f)
}

// SendControl writes a JSON control message of type typ.
func (c *Conn) SendControl(ctx context.Context, typ string, fields map[string]any) error {
	f, err := EncodeControl(typ, fields)
	if err != nil {
		return err
	}
	return c.write(ctx, f)
}

func (c *Conn) write(ctx context.Context, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	typ := websocket.MessageBinary
	if f.Text {
		typ = websocket.MessageText
	}
	if err := c.ws.Write(ctx, typ, f.Data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// ReadLoop reads messages until ctx is cancelled or the connection closes,
// passing each decoded message to handle. Malformed messages are logged and
// skipped. A normal closure by the peer returns nil.
func (c *Conn) ReadLoop(ctx context.Context, handle func(Inbound)) error {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}

		in, err := c.codec.Decode(Frame{Text: typ == websocket.MessageText, Data: data})
		if err != nil {
			slog.Debug("transport: dropping malformed message", "bytes", len(data), "err", err)
			continue
		}
		handle(in)
	}
}

// Close performs a normal closing handshake.
func (c *Conn) Close(reason string) error {
	err := c.ws.Close(websocket.StatusNormalClosure, reason)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}
