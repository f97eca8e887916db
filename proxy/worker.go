package proxy

import (
	"encoding/json"
	stderrors "errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/quillpdf/pdfium-host/document"
	"github.com/quillpdf/pdfium-host/engine"
	"github.com/quillpdf/pdfium-host/errors"
	"github.com/quillpdf/pdfium-host/resource"
)

// Worker serves the document layer over a Transport. Requests run in their
// own goroutines but serialize on the engine mutex: the engine itself is
// single-threaded, the point of the proxy is to keep callers off its
// thread. Wire IDs for documents and pages come from per-kind handle
// tables.
type Worker struct {
	transport Transport
	eng       engine.Engine
	log       *zap.Logger
	limits    document.Limits

	engineMu sync.Mutex
	sendMu   sync.Mutex

	docs  *resource.Table[*document.Document]
	pages *resource.Table[*document.Page]

	cancelled sync.Map // request ID -> struct{}
	wg        sync.WaitGroup
}

// WorkerOption configures NewWorker.
type WorkerOption func(*Worker)

// WithWorkerLogger installs a logger.
func WithWorkerLogger(l *zap.Logger) WorkerOption {
	return func(w *Worker) { w.log = l }
}

// WithWorkerLimits overrides the limits applied to documents it opens.
func WithWorkerLimits(l document.Limits) WorkerOption {
	return func(w *Worker) { w.limits = l }
}

// NewWorker wraps an engine for serving over t.
func NewWorker(t Transport, eng engine.Engine, opts ...WorkerOption) *Worker {
	w := &Worker{
		transport: t,
		eng:       eng,
		log:       zap.NewNop(),
		limits:    document.DefaultLimits(),
		docs:      resource.NewTable[*document.Document](),
		pages:     resource.NewTable[*document.Page](),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Serve processes requests until a destroy request arrives or the
// transport fails. Either way every resource the worker owns is released
// before it returns; a clean destroy shutdown returns nil.
func (w *Worker) Serve() error {
	for {
		msg, err := w.transport.Receive()
		if err != nil {
			w.wg.Wait()
			w.releaseAll()
			if stderrors.Is(err, ErrTransportClosed) {
				return nil
			}
			return errors.Transport("worker receive failed", err)
		}

		switch msg.Type {
		case TypeDestroy:
			w.wg.Wait()
			w.releaseAll()
			w.send(Message{Type: TypeSuccess, ID: msg.ID})
			return nil
		case TypeCancel:
			w.cancelled.Store(msg.ID, struct{}{})
		default:
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.process(msg)
			}()
		}
	}
}

// releaseAll closes pages before documents: views before lenders.
func (w *Worker) releaseAll() {
	if err := multierr.Append(w.pages.Close(), w.docs.Close()); err != nil {
		w.log.Warn("worker teardown reported errors", zap.Error(err))
	}
}

func (w *Worker) send(m Message) {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	if err := w.transport.Send(m); err != nil {
		w.log.Debug("reply not delivered", zap.String("id", m.ID), zap.Error(err))
	}
}

func (w *Worker) reply(id string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			w.replyError(id, errors.Transport("unencodable response", err))
			return
		}
		raw = b
	}
	w.send(Message{Type: TypeSuccess, ID: id, Payload: raw})
}

func (w *Worker) replyError(id string, err error) {
	p := ErrorPayload{Code: int(errors.CodeEngineFailure), Message: err.Error()}
	var herr *errors.Error
	if stderrors.As(err, &herr) && herr.Code != errors.CodeNone {
		p.Code = int(herr.Code)
	}
	b, merr := json.Marshal(p)
	if merr != nil {
		w.log.Error("error payload not encodable", zap.Error(merr))
		return
	}
	w.send(Message{Type: TypeError, ID: id, Payload: b})
}

func (w *Worker) progress(id string, value float64) {
	b, err := json.Marshal(ProgressPayload{Value: value})
	if err != nil {
		return
	}
	w.send(Message{Type: TypeProgress, ID: id, Payload: b})
}

func (w *Worker) isCancelled(id string) bool {
	_, ok := w.cancelled.Load(id)
	return ok
}

func (w *Worker) process(msg Message) {
	defer w.cancelled.Delete(msg.ID)

	resp, err := w.handle(msg)
	if w.isCancelled(msg.ID) {
		// The caller already gave up; a reply would be dropped as late.
		w.replyError(msg.ID, errors.Cancelled(msg.Type, nil))
		return
	}
	if err != nil {
		w.replyError(msg.ID, err)
		return
	}
	w.reply(msg.ID, resp)
}

func (w *Worker) handle(msg Message) (any, error) {
	switch msg.Type {
	case OpOpenDocument:
		var req OpenDocumentRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, errors.InvalidInput(errors.PhaseTransport, "malformed open_document request")
		}
		return w.openDocument(req)

	case OpCloseDocument:
		var req DocumentRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, errors.InvalidInput(errors.PhaseTransport, "malformed close_document request")
		}
		doc, ok := w.docs.Remove(resource.Handle(req.Doc))
		if !ok {
			return nil, errors.NotFound(errors.PhaseTransport, "document", int(req.Doc))
		}
		w.engineMu.Lock()
		defer w.engineMu.Unlock()
		return nil, doc.Close()

	case OpPageCount:
		doc, err := w.doc(msg.Payload)
		if err != nil {
			return nil, err
		}
		w.engineMu.Lock()
		defer w.engineMu.Unlock()
		n, err := doc.PageCount()
		if err != nil {
			return nil, err
		}
		return PageCountResponse{Count: n}, nil

	case OpMetadata:
		doc, err := w.doc(msg.Payload)
		if err != nil {
			return nil, err
		}
		w.engineMu.Lock()
		defer w.engineMu.Unlock()
		m, err := doc.Metadata()
		if err != nil {
			return nil, err
		}
		return MetadataResponse{
			Title: m.Title, Author: m.Author, Subject: m.Subject,
			Keywords: m.Keywords, Creator: m.Creator, Producer: m.Producer,
			CreationDate: m.CreationDate, ModDate: m.ModDate,
		}, nil

	case OpLoadPage:
		var req LoadPageRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, errors.InvalidInput(errors.PhaseTransport, "malformed load_page request")
		}
		doc, ok := w.docs.Get(resource.Handle(req.Doc))
		if !ok {
			return nil, errors.NotFound(errors.PhaseTransport, "document", int(req.Doc))
		}
		w.engineMu.Lock()
		page, err := doc.Page(req.Index)
		w.engineMu.Unlock()
		if err != nil {
			return nil, err
		}
		id, err := w.pages.Insert(page)
		if err != nil {
			w.engineMu.Lock()
			defer w.engineMu.Unlock()
			if cerr := page.Close(); cerr != nil {
				w.log.Warn("page close after table failure", zap.Error(cerr))
			}
			return nil, errors.Transport("worker shutting down", err)
		}
		return LoadPageResponse{Page: uint32(id)}, nil

	case OpClosePage:
		var req PageRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, errors.InvalidInput(errors.PhaseTransport, "malformed close_page request")
		}
		page, ok := w.pages.Remove(resource.Handle(req.Page))
		if !ok {
			return nil, errors.NotFound(errors.PhaseTransport, "page", int(req.Page))
		}
		w.engineMu.Lock()
		defer w.engineMu.Unlock()
		return nil, page.Close()

	case OpPageSize:
		page, err := w.page(msg.Payload)
		if err != nil {
			return nil, err
		}
		w.engineMu.Lock()
		defer w.engineMu.Unlock()
		width, height, err := page.Size()
		if err != nil {
			return nil, err
		}
		return PageSizeResponse{Width: width, Height: height}, nil

	case OpPageText:
		page, err := w.page(msg.Payload)
		if err != nil {
			return nil, err
		}
		w.engineMu.Lock()
		defer w.engineMu.Unlock()
		text, err := page.Text()
		if err != nil {
			return nil, err
		}
		return PageTextResponse{Text: text}, nil

	case OpRenderPage:
		return w.renderPage(msg.ID, msg.Payload)

	default:
		return nil, errors.NotFound(errors.PhaseTransport, "operation "+msg.Type, 0)
	}
}

func (w *Worker) openDocument(req OpenDocumentRequest) (any, error) {
	w.engineMu.Lock()
	doc, err := document.Open(w.eng, req.Data,
		document.WithPassword(req.Password),
		document.WithLimits(w.limits),
		document.WithLogger(w.log))
	w.engineMu.Unlock()
	if err != nil {
		return nil, err
	}
	id, err := w.docs.Insert(doc)
	if err != nil {
		w.engineMu.Lock()
		defer w.engineMu.Unlock()
		if cerr := doc.Close(); cerr != nil {
			w.log.Warn("document close after table failure", zap.Error(cerr))
		}
		return nil, errors.Transport("worker shutting down", err)
	}
	return OpenDocumentResponse{Doc: uint32(id)}, nil
}

func (w *Worker) doc(payload json.RawMessage) (*document.Document, error) {
	var req DocumentRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.InvalidInput(errors.PhaseTransport, "malformed document request")
	}
	doc, ok := w.docs.Get(resource.Handle(req.Doc))
	if !ok {
		return nil, errors.NotFound(errors.PhaseTransport, "document", int(req.Doc))
	}
	return doc, nil
}

func (w *Worker) page(payload json.RawMessage) (*document.Page, error) {
	var req PageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.InvalidInput(errors.PhaseTransport, "malformed page request")
	}
	page, ok := w.pages.Get(resource.Handle(req.Page))
	if !ok {
		return nil, errors.NotFound(errors.PhaseTransport, "page", int(req.Page))
	}
	return page, nil
}

// renderPage runs the render progressively so it can emit PROGRESS between
// slices and honor a cancel that arrives mid-render.
func (w *Worker) renderPage(id string, payload json.RawMessage) (any, error) {
	var req RenderPageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, errors.InvalidInput(errors.PhaseTransport, "malformed render_page request")
	}
	page, ok := w.pages.Get(resource.Handle(req.Page))
	if !ok {
		return nil, errors.NotFound(errors.PhaseTransport, "page", int(req.Page))
	}

	opts := document.RenderOptions{Width: req.Width, Height: req.Height, Scale: req.Scale}

	w.engineMu.Lock()
	r, err := page.StartProgressiveRender(opts)
	w.engineMu.Unlock()
	if err != nil {
		return nil, err
	}
	defer func() {
		w.engineMu.Lock()
		defer w.engineMu.Unlock()
		if cerr := r.Close(); cerr != nil {
			w.log.Warn("render close reported errors", zap.Error(cerr))
		}
	}()

	slices := 1
	for !r.Status().Terminal() {
		if w.isCancelled(id) {
			return nil, errors.Cancelled(OpRenderPage, nil)
		}
		// Monotone estimate below 1; the engine reports no granularity.
		w.progress(id, float64(slices)/float64(slices+1))

		w.engineMu.Lock()
		_, err := r.Continue()
		w.engineMu.Unlock()
		if err != nil {
			return nil, err
		}
		slices++
	}
	if r.Status() != document.StatusDone {
		return nil, errors.New(errors.PhaseRender, errors.KindEngine).
			Code(errors.CodeEngineFailure).
			Op(OpRenderPage).
			Detail("render ended in state %s", r.Status()).
			Build()
	}

	w.engineMu.Lock()
	img, err := r.Result()
	w.engineMu.Unlock()
	if err != nil {
		return nil, err
	}

	width, height := r.Size()
	return RenderPageResponse{Width: width, Height: height, Pixels: img.Pix}, nil
}
