// Package previewsink streams preview playback to websocket clients.
//
// A [Hub] is both a [media.Display] and a [media.AudioOutput], so a preview
// player can drive remote viewers the same way it would drive a local
// window. Every message is binary and starts with a one-byte kind:
//
//	0x01 frame: JPEG image
//	0x02 audio: uint32 little-endian sample rate, then s16le mono PCM
//
// Frames are latest-wins per client: a client that cannot keep up skips
// frames instead of delaying them. Audio chunks are queued up to a bound and
// dropped beyond it.
package previewsink

import (
	"bytes"
	"context"
	"encoding/binary"
	"image/jpeg"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/phonemix/internal/observe"
	"github.com/MrWong99/phonemix/pkg/media"
)

// Message kinds.
const (
	KindFrame byte = 0x01
	KindAudio byte = 0x02
)

const (
	defaultQuality    = 75
	defaultChunk      = 20 * time.Millisecond
	defaultAudioQueue = 64
	writeTimeout      = 5 * time.Second
)

// Compile-time interface assertions.
var (
	_ media.Display     = (*Hub)(nil)
	_ media.AudioOutput = (*Hub)(nil)
)

// Option configures a [Hub].
type Option func(*Hub)

// WithJPEGQuality sets the frame encoding quality (1-100).
func WithJPEGQuality(q int) Option {
	return func(h *Hub) {
		if q >= 1 && q <= 100 {
			h.quality = q
		}
	}
}

// WithChunk sets the audio pacing interval.
func WithChunk(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.chunk = d
		}
	}
}

// WithOriginPatterns sets the origins allowed to connect. See
// [websocket.AcceptOptions].
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) {
		h.origins = patterns
	}
}

// WithMetrics tracks connected clients on m. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// Hub fans preview output out to websocket clients. It implements
// [http.Handler] for the websocket endpoint.
type Hub struct {
	quality int
	chunk   time.Duration
	origins []string
	metrics *observe.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}

	dropped atomic.Uint64
}

// New returns a Hub with no clients.
func New(opts ...Option) *Hub {
	h := &Hub{
		quality: defaultQuality,
		chunk:   defaultChunk,
		metrics: observe.DefaultMetrics(),
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many frames and audio chunks were skipped for slow
// clients.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// ServeHTTP upgrades the request to a websocket and streams to it until the
// client disconnects or the request context ends. Messages from the client
// are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("previewsink: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	c := newClient()
	h.add(c)
	defer h.remove(c)
	slog.Info("previewsink: client connected", "remote", r.RemoteAddr)

	if err := c.writeLoop(ctx, conn); err != nil && ctx.Err() == nil {
		slog.Warn("previewsink: client write failed", "remote", r.RemoteAddr, "err", err)
		conn.Close(websocket.StatusInternalError, "write failed")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
	slog.Info("previewsink: client disconnected", "remote", r.RemoteAddr)
}

// ShowFrame implements [media.Display]. The frame is encoded once and
// offered to every client.
func (h *Hub) ShowFrame(f media.Frame) {
	if f == nil || h.Clients() == 0 {
		return
	}
	var buf bytes.Buffer
	buf.WriteByte(KindFrame)
	if err := jpeg.Encode(&buf, f, &jpeg.Options{Quality: h.quality}); err != nil {
		slog.Warn("previewsink: encode frame failed", "err", err)
		return
	}
	msg := buf.Bytes()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.offerFrame(msg) {
			h.dropped.Add(1)
		}
	}
}

// Play implements [media.AudioOutput]. The buffer is streamed to clients in
// real time, one chunk per pacing interval.
func (h *Hub) Play(buf media.AudioBuffer) (media.Playback, error) {
	p := &playback{
		hub:  h,
		buf:  buf,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.run()
	return p, nil
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.SinkClients.Add(context.Background(), 1)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.metrics.SinkClients.Add(context.Background(), -1)
}

func (h *Hub) broadcastAudio(rate int, pcm []byte) {
	msg := make([]byte, 5+len(pcm))
	msg[0] = KindAudio
	binary.LittleEndian.PutUint32(msg[1:5], uint32(rate))
	copy(msg[5:], pcm)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.audio <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// ─── client ──────────────────────────────────────────────────────────────────

type client struct {
	mu    sync.Mutex
	frame []byte // pending frame, nil when consumed

	wake  chan struct{}
	audio chan []byte
}

func newClient() *client {
	return &client{
		wake:  make(chan struct{}, 1),
		audio: make(chan []byte, defaultAudioQueue),
	}
}

// offerFrame replaces the pending frame and reports whether an unsent one
// was overwritten.
func (c *client) offerFrame(msg []byte) bool {
	c.mu.Lock()
	dropped := c.frame != nil
	c.frame = msg
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return dropped
}

func (c *client) takeFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.frame
	c.frame = nil
	return f
}

func (c *client) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg = <-c.audio:
		case <-c.wake:
			if msg = c.takeFrame(); msg == nil {
				continue
			}
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageBinary, msg)
		cancel()
		if err != nil {
			return err
		}
	}
}

// ─── playback ────────────────────────────────────────────────────────────────

type playback struct {
	hub *Hub
	buf media.AudioBuffer

	mu     sync.Mutex
	paused bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (p *playback) run() {
	defer close(p.done)
	if p.buf.Empty() {
		return
	}
	per := int(int64(p.buf.SampleRate)*int64(p.hub.chunk)/int64(time.Second)) * 2
	if per < 2 {
		per = 2
	}

	ticker := time.NewTicker(p.hub.chunk)
	defer ticker.Stop()
	pcm := p.buf.PCM
	for off := 0; off < len(pcm); {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}
		p.mu.Lock()
		paused := p.paused
		p.mu.Unlock()
		if paused {
			continue
		}
		end := min(off+per, len(pcm))
		p.hub.broadcastAudio(p.buf.SampleRate, pcm[off:end])
		off = end
	}
}

func (p *playback) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *playback) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

func (p *playback) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *playback) Done() <-chan struct{} { return p.done }
