// Package pump implements the inline byte-stream tap: a fixed ring buffer
// between a pipeline stage's output descriptor and its consumers, with
// incremental format sniffing on the way through. The tap only ever slows
// the stream (by at most the ring capacity), never corrupts or reorders it.
package pump

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coralsh/coral/internal/infrastructure/monitoring"
	"github.com/coralsh/coral/internal/shared/id"
	"github.com/coralsh/coral/internal/types"
)

const (
	// DefaultRingCapacity bounds one pump's memory footprint.
	DefaultRingCapacity = 64 * 1024

	// DefaultDetachGrace is how long Detach waits for buffered bytes to
	// drain before force-closing the descriptor.
	DefaultDetachGrace = 250 * time.Millisecond

	// DefaultCaptureLimit caps the bytes retained for Value reparse.
	DefaultCaptureLimit = 1 << 20

	readChunk = 8 * 1024
)

// Config tunes one pump instance.
type Config struct {
	RingCapacity int
	SniffBudget  int
	DetachGrace  time.Duration
	CaptureLimit int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RingCapacity: DefaultRingCapacity,
		SniffBudget:  DefaultSniffBudget,
		DetachGrace:  DefaultDetachGrace,
		CaptureLimit: DefaultCaptureLimit,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RingCapacity <= 0 {
		c.RingCapacity = d.RingCapacity
	}
	if c.SniffBudget <= 0 {
		c.SniffBudget = d.SniffBudget
	}
	if c.DetachGrace <= 0 {
		c.DetachGrace = d.DetachGrace
	}
	if c.CaptureLimit <= 0 {
		c.CaptureLimit = d.CaptureLimit
	}
	return c
}

type consumer struct {
	ch   chan types.OutputChunk
	done chan struct{}
}

// Pump binds one stage output descriptor to one ring buffer and one
// sniffer, fanning drained chunks out to a downstream writer (the next
// stage's stdin) and any number of chunk subscribers.
type Pump struct {
	StreamID id.StreamID

	jobID  uint64
	stderr bool

	src        io.ReadCloser
	ring       *Ring
	sniffer    *Sniffer
	downstream io.WriteCloser

	cfg     Config
	log     *zap.Logger
	metrics *monitoring.Metrics

	mu        sync.Mutex
	consumers []*consumer
	gate      chan struct{} // closed once the first consumer exists
	gateOnce  sync.Once

	capture  []byte
	finished bool
	final    types.OutputChunk

	quit       chan struct{}
	quitOnce   sync.Once
	detachOnce sync.Once
	done       chan struct{}

	finalMu  sync.Mutex
	finalErr string
}

// Option customizes a pump at attach time.
type Option func(*Pump)

// WithDownstream forwards drained bytes into the next pipeline stage.
// A downstream counts as a consumer.
func WithDownstream(w io.WriteCloser) Option {
	return func(p *Pump) { p.downstream = w }
}

// WithJob tags emitted chunks with the owning job.
func WithJob(jobID uint64) Option {
	return func(p *Pump) { p.jobID = jobID }
}

// WithStderr marks the stream as a stderr tap.
func WithStderr() Option {
	return func(p *Pump) { p.stderr = true }
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pump) { p.log = log }
}

// WithMetrics wires throughput metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pump) { p.metrics = m }
}

// Attach binds the pump to a source descriptor and starts its fill and
// drain loops. The pump owns src and closes it on detach.
func Attach(src io.ReadCloser, cfg Config, opts ...Option) *Pump {
	cfg = cfg.withDefaults()
	p := &Pump{
		StreamID: id.NewStreamID(),
		src:      src,
		ring:     NewRing(cfg.RingCapacity),
		sniffer:  NewSniffer(cfg.SniffBudget),
		cfg:      cfg,
		log:      zap.NewNop(),
		gate:     make(chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.downstream != nil {
		p.gateOnce.Do(func() { close(p.gate) })
	}
	p.metrics.RecordPumpAttached(1)
	go p.fill()
	go p.drain()
	return p
}

// Subscribe registers a chunk consumer. Chunks buffered before the first
// consumer attached are delivered in full, in source order. The cancel
// function abandons the subscription. Subscribing to a pump that already
// finished yields the final chunk and a closed channel.
func (p *Pump) Subscribe() (<-chan types.OutputChunk, func()) {
	c := &consumer{
		ch:   make(chan types.OutputChunk, 16),
		done: make(chan struct{}),
	}
	p.mu.Lock()
	if p.finished {
		final := p.final
		p.mu.Unlock()
		c.ch <- final
		close(c.ch)
		return c.ch, func() {}
	}
	p.consumers = append(p.consumers, c)
	p.mu.Unlock()
	p.gateOnce.Do(func() { close(p.gate) })

	var once sync.Once
	cancel := func() {
		once.Do(func() { close(c.done) })
	}
	return c.ch, cancel
}

// Done is closed after the final event has been emitted.
func (p *Pump) Done() <-chan struct{} { return p.done }

// Verdict returns the sniffer's current format and lock state.
func (p *Pump) Verdict() (types.Format, bool) { return p.sniffer.Verdict() }

// Captured returns the bytes retained for reparse, up to the configured
// capture limit. Meaningful once Done is closed.
func (p *Pump) Captured() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.capture...)
}

// Result reparses the captured stream into a Value once the verdict is
// locked on a structured format. Returns false otherwise.
func (p *Pump) Result() (types.Value, bool) {
	format, locked := p.sniffer.Verdict()
	if !locked || !format.Structured() {
		return nil, false
	}
	p.mu.Lock()
	data := p.capture
	p.mu.Unlock()
	return Reparse(format, data)
}

// Detach stops the pump. Buffered-but-undrained bytes get the configured
// grace period to flush, then the descriptor side is force-closed. Calling
// Detach more than once is a no-op.
func (p *Pump) Detach() {
	p.detachOnce.Do(func() {
		select {
		case <-p.done:
			// Already finished naturally; just release the descriptor.
			_ = p.src.Close()
			return
		case <-time.After(p.cfg.DetachGrace):
		}
		p.quitOnce.Do(func() { close(p.quit) })
		_ = p.src.Close()
		p.ring.Close()
		<-p.done
	})
}

// fill is the producer loop: source descriptor → ring buffer, bounded by
// the ring's free space so a slow consumer stops the pull from the source.
func (p *Pump) fill() {
	buf := make([]byte, readChunk)
	for {
		select {
		case <-p.quit:
			p.ring.Close()
			return
		default:
		}

		free := p.ring.Free()
		if free == 0 {
			p.metrics.RecordBackpressure()
			select {
			case <-p.ring.Writable():
			case <-p.quit:
				p.ring.Close()
				return
			}
			continue
		}

		limit := free
		if limit > len(buf) {
			limit = len(buf)
		}
		n, err := p.src.Read(buf[:limit])
		if n > 0 {
			p.feed(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.setFinalErr(err)
			}
			p.ring.Close()
			return
		}
	}
}

// feed pushes newly read bytes into the ring, retrying on backpressure,
// and offers every accepted range to the sniffer.
func (p *Pump) feed(data []byte) {
	for len(data) > 0 {
		n, err := p.ring.Push(data)
		if err != nil {
			return
		}
		if n > 0 {
			p.sniffer.Feed(data[:n])
			p.metrics.RecordPumpBytes(n)
			data = data[n:]
			continue
		}
		p.metrics.RecordBackpressure()
		select {
		case <-p.ring.Writable():
		case <-p.quit:
			return
		}
	}
}

// drain is the consumer loop: ring buffer → downstream writer + chunk
// subscribers. It gates on the first consumer so early output is retained.
func (p *Pump) drain() {
	defer func() {
		p.metrics.RecordPumpAttached(-1)
		close(p.done)
	}()

	select {
	case <-p.gate:
	case <-p.quit:
		// Killed before anyone attached: flush what we have as the final
		// partial event rather than hanging.
	}

	for {
		data, err := p.ring.Drain(readChunk)
		if len(data) > 0 {
			p.forward(data)
			continue
		}
		if err != nil {
			p.finish()
			return
		}
		select {
		case <-p.ring.Readable():
		case <-p.quit:
			// Drain whatever is left, then finish.
			for {
				rest, derr := p.ring.Drain(readChunk)
				if len(rest) > 0 {
					p.forward(rest)
					continue
				}
				_ = derr
				break
			}
			p.finish()
			return
		}
	}
}

func (p *Pump) forward(data []byte) {
	if p.downstream != nil {
		if _, err := p.downstream.Write(data); err != nil {
			// Broken pipe downstream; stop forwarding but keep observing.
			p.log.Debug("pump downstream write failed",
				zap.String("stream", p.StreamID.String()), zap.Error(err))
			_ = p.downstream.Close()
			p.downstream = nil
		}
	}

	p.mu.Lock()
	if len(p.capture) < p.cfg.CaptureLimit {
		room := p.cfg.CaptureLimit - len(p.capture)
		if room > len(data) {
			room = len(data)
		}
		p.capture = append(p.capture, data[:room]...)
	}
	consumers := make([]*consumer, len(p.consumers))
	copy(consumers, p.consumers)
	p.mu.Unlock()

	format, locked := p.sniffer.Verdict()
	chunk := types.OutputChunk{
		StreamID: p.StreamID.String(),
		JobID:    p.jobID,
		Stderr:   p.stderr,
		Data:     data,
		Format:   format.String(),
		Locked:   locked,
	}
	p.deliver(consumers, chunk)
}

// finish finalizes the verdict, emits the final event, closes the consumer
// channels and releases the downstream writer. The final chunk is retained
// so late subscribers still observe it.
func (p *Pump) finish() {
	format := p.sniffer.Finish()
	p.metrics.RecordVerdict(format.String())

	if p.downstream != nil {
		_ = p.downstream.Close()
		p.downstream = nil
	}
	_ = p.src.Close()

	p.finalMu.Lock()
	finalErr := p.finalErr
	p.finalMu.Unlock()

	chunk := types.OutputChunk{
		StreamID: p.StreamID.String(),
		JobID:    p.jobID,
		Stderr:   p.stderr,
		Format:   format.String(),
		Locked:   true,
		Final:    true,
		Err:      finalErr,
	}

	p.mu.Lock()
	consumers := make([]*consumer, len(p.consumers))
	copy(consumers, p.consumers)
	p.finished = true
	p.final = chunk
	p.mu.Unlock()

	p.deliver(consumers, chunk)
	for _, c := range consumers {
		close(c.ch)
	}
}

func (p *Pump) deliver(consumers []*consumer, chunk types.OutputChunk) {
	for _, c := range consumers {
		select {
		case c.ch <- chunk:
		case <-c.done:
		}
	}
}

func (p *Pump) setFinalErr(err error) {
	p.finalMu.Lock()
	defer p.finalMu.Unlock()
	if p.finalErr == "" {
		p.finalErr = err.Error()
	}
}
