package proxy

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillpdf/pdfium-host/errors"
	"github.com/quillpdf/pdfium-host/resource"
)

// Config tunes the client's timeouts and shutdown behavior.
type Config struct {
	// DefaultTimeout bounds ordinary calls. Zero means 30s.
	DefaultTimeout time.Duration
	// RenderTimeout bounds render-class calls, which legitimately run
	// much longer than metadata lookups. Zero means 120s.
	RenderTimeout time.Duration
	// ShutdownGrace is how long Close waits for the worker to acknowledge
	// the destroy request before forcing termination. Zero means 5s.
	ShutdownGrace time.Duration
	// Terminate is invoked when the worker misses the shutdown grace
	// period. It should kill the worker outright (e.g. stop its process).
	Terminate func()
	Logger    *zap.Logger
}

func (c *Config) withDefaults() {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 120 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

func (c *Config) timeoutFor(op string) time.Duration {
	switch {
	case op == TypeDestroy:
		return c.ShutdownGrace
	case renderClass(op):
		return c.RenderTimeout
	default:
		return c.DefaultTimeout
	}
}

// Client issues calls to a worker over a Transport. All replies funnel
// through a single receive goroutine, so completion of any pending call
// has exactly one writer.
type Client struct {
	core  *clientCore
	state *resource.State
}

// clientCore is the teardown target; it must not reference the Client.
type clientCore struct {
	transport Transport
	cfg       Config
	log       *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingCall
	nextID  uint64
	fault   *errors.Error

	recvDone chan struct{}
}

type pendingCall struct {
	op       string
	started  time.Time
	timer    *time.Timer
	done     chan callResult
	progress func(float64)
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// NewClient wraps a transport. The client owns the transport: Close closes
// it after the destroy handshake.
func NewClient(t Transport, cfg Config) *Client {
	cfg.withDefaults()
	core := &clientCore{
		transport: t,
		cfg:       cfg,
		log:       cfg.Logger,
		pending:   make(map[string]*pendingCall),
		recvDone:  make(chan struct{}),
	}
	c := &Client{
		core:  core,
		state: resource.NewState("proxy", errors.CodeProxyClosed),
	}
	resource.Bind(c.state, c, core.shutdown)
	go core.receiveLoop()
	return c
}

// Call sends one request and blocks for its reply, decoding the success
// payload into resp when resp is non-nil. Cancelling ctx abandons the call
// and tells the worker to stop the orphaned work.
func (c *Client) Call(ctx context.Context, op string, req, resp any) error {
	return c.CallProgress(ctx, op, req, resp, nil)
}

// CallProgress is Call with a progress callback, invoked from the receive
// goroutine for every PROGRESS message addressed to this call.
func (c *Client) CallProgress(ctx context.Context, op string, req, resp any, onProgress func(float64)) error {
	if err := c.state.Live(); err != nil {
		return err
	}
	payload, err := c.core.call(ctx, op, req, onProgress)
	if err != nil {
		return err
	}
	if resp != nil {
		if err := json.Unmarshal(payload, resp); err != nil {
			return errors.Transport("malformed success payload", err)
		}
	}
	return nil
}

// Pending reports the number of in-flight calls, for diagnostics and tests.
func (c *Client) Pending() int {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	return len(c.core.pending)
}

// Close shuts the worker down: a destroy request awaited up to the grace
// period, then forced termination. Idempotent.
func (c *Client) Close() error {
	return c.state.Close()
}

func (c *clientCore) call(ctx context.Context, op string, req any, onProgress func(float64)) (json.RawMessage, error) {
	var payload json.RawMessage
	if req != nil {
		raw, err := json.Marshal(req)
		if err != nil {
			return nil, errors.InvalidInput(errors.PhaseTransport, "unencodable request: "+err.Error())
		}
		payload = raw
	}

	pc := &pendingCall{
		op:       op,
		started:  time.Now(),
		done:     make(chan callResult, 1),
		progress: onProgress,
	}

	c.mu.Lock()
	if c.fault != nil {
		fault := c.fault
		c.mu.Unlock()
		return nil, fault
	}
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	// The timer must exist before the record is visible to the receive
	// goroutine: take, expire and failAll all read it under the same lock.
	pc.timer = time.AfterFunc(c.cfg.timeoutFor(op), func() { c.expire(id) })
	c.pending[id] = pc
	c.mu.Unlock()

	if err := c.transport.Send(Message{Type: op, ID: id, Payload: payload}); err != nil {
		c.failAll(err)
		c.mu.Lock()
		fault := c.fault
		c.mu.Unlock()
		return nil, fault
	}

	select {
	case res := <-pc.done:
		return res.payload, res.err
	case <-ctx.Done():
		c.abandon(id)
		// Best effort: the worker checks for this between progress
		// increments and stops the orphaned work.
		if err := c.transport.Send(Message{Type: TypeCancel, ID: id}); err != nil {
			c.log.Debug("cancel not delivered", zap.String("op", op), zap.Error(err))
		}
		return nil, errors.Cancelled(op, ctx.Err())
	}
}

// take removes and returns the pending record for id, stopping its timer.
func (c *clientCore) take(id string) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	if pc.timer != nil {
		pc.timer.Stop()
	}
	return pc
}

func (c *clientCore) expire(id string) {
	pc := c.take(id)
	if pc == nil {
		return
	}
	pc.done <- callResult{err: errors.Timeout(pc.op, time.Since(pc.started))}
}

func (c *clientCore) abandon(id string) {
	c.take(id)
}

func (c *clientCore) failAll(cause error) {
	c.mu.Lock()
	if c.fault == nil {
		c.fault = errors.Transport("transport failed", cause)
	}
	fault := c.fault
	rejected := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, pc := range rejected {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.done <- callResult{err: fault}
	}
	if len(rejected) > 0 {
		c.log.Warn("transport fault rejected pending calls",
			zap.Int("count", len(rejected)), zap.Error(cause))
	}
}

func (c *clientCore) receiveLoop() {
	defer close(c.recvDone)
	for {
		msg, err := c.transport.Receive()
		if err != nil {
			c.failAll(err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *clientCore) dispatch(msg Message) {
	switch msg.Type {
	case TypeProgress:
		c.mu.Lock()
		pc := c.pending[msg.ID]
		c.mu.Unlock()
		if pc == nil || pc.progress == nil {
			return
		}
		var p ProgressPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.log.Debug("malformed progress payload", zap.String("id", msg.ID))
			return
		}
		pc.progress(p.Value)

	case TypeSuccess:
		pc := c.take(msg.ID)
		if pc == nil {
			c.log.Debug("late success dropped", zap.String("id", msg.ID))
			return
		}
		pc.done <- callResult{payload: msg.Payload}

	case TypeError:
		pc := c.take(msg.ID)
		if pc == nil {
			c.log.Debug("late error dropped", zap.String("id", msg.ID))
			return
		}
		pc.done <- callResult{err: decodeWorkerError(msg.Payload)}

	default:
		c.log.Debug("unexpected message dropped", zap.String("type", msg.Type))
	}
}

// decodeWorkerError turns an ERROR payload into a structured error. Codes
// outside the known set are not trusted: they become transport failures.
func decodeWorkerError(payload json.RawMessage) error {
	var p ErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errors.Transport("malformed error payload", err)
	}
	code := errors.Code(p.Code)
	if !errors.KnownCode(code) {
		return errors.Transport("worker reported unknown error code "+strconv.Itoa(p.Code)+": "+p.Message, nil)
	}
	return errors.Worker(code, p.Message)
}

// shutdown runs the two-phase destroy handshake.
func (c *clientCore) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownGrace)
	defer cancel()

	if _, err := c.call(ctx, TypeDestroy, nil, nil); err != nil {
		c.log.Warn("worker missed shutdown grace, terminating", zap.Error(err))
		if c.cfg.Terminate != nil {
			c.cfg.Terminate()
		}
	}

	err := c.transport.Close()
	<-c.recvDone
	return err
}
