package document

import (
	"go.uber.org/zap"

	"github.com/quillpdf/pdfium-host/engine"
	"github.com/quillpdf/pdfium-host/errors"
	"github.com/quillpdf/pdfium-host/resource"
)

// Document is the root resource: it owns a document handle inside the
// engine. Pages are derived from it; each page owns its own native handle,
// so closing the document does not require a borrow ledger of its own -
// but the engine requires pages to be closed before their document, which
// the caller owns.
type Document struct {
	eng    engine.Engine
	state  *resource.State
	handle engine.Handle
	limits Limits
	log    *zap.Logger
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	password string
	limits   Limits
	log      *zap.Logger
}

// WithPassword supplies the document password.
func WithPassword(pw string) Option {
	return func(c *openConfig) { c.password = pw }
}

// WithLimits overrides the default resource limits.
func WithLimits(l Limits) Option {
	return func(c *openConfig) { c.limits = l }
}

// WithLogger installs a logger for lifecycle diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *openConfig) { c.log = l }
}

// Open parses data as a PDF document. The data is handed to the engine,
// which reads from it for the document's whole lifetime.
func Open(eng engine.Engine, data []byte, opts ...Option) (*Document, error) {
	cfg := openConfig{limits: DefaultLimits(), log: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.limits.MaxDocumentBytes > 0 && len(data) > cfg.limits.MaxDocumentBytes {
		return nil, errors.LimitExceeded(errors.PhaseOpen, "document size", len(data), cfg.limits.MaxDocumentBytes)
	}

	handle, err := eng.LoadDocument(data, cfg.password)
	if err != nil {
		return nil, errors.Engine(errors.PhaseOpen, "load_document", err)
	}

	d := &Document{
		eng:    eng,
		state:  resource.NewState("document", errors.CodeDocumentClosed),
		handle: handle,
		limits: cfg.limits,
		log:    cfg.log,
	}

	log := cfg.log
	resource.Bind(d.state, d, func() error {
		if err := eng.CloseDocument(handle); err != nil {
			log.Error("close document failed", zap.Error(err))
			return errors.Engine(errors.PhaseTeardown, "close_document", err)
		}
		return nil
	})

	return d, nil
}

// Close releases the document handle. Idempotent.
func (d *Document) Close() error {
	return d.state.Close()
}

// PageCount returns the number of pages.
func (d *Document) PageCount() (int, error) {
	if err := d.state.Live(); err != nil {
		return 0, err
	}
	n, err := d.eng.PageCount(d.handle)
	if err != nil {
		return 0, errors.Engine(errors.PhaseOpen, "page_count", err)
	}
	return n, nil
}

// Metadata holds the document information dictionary's common entries.
type Metadata struct {
	Title        string
	Author       string
	Subject      string
	Keywords     string
	Creator      string
	Producer     string
	CreationDate string
	ModDate      string
}

// Metadata reads the common info-dictionary tags.
func (d *Document) Metadata() (Metadata, error) {
	var m Metadata
	if err := d.state.Live(); err != nil {
		return m, err
	}

	for _, f := range []struct {
		tag string
		dst *string
	}{
		{"Title", &m.Title},
		{"Author", &m.Author},
		{"Subject", &m.Subject},
		{"Keywords", &m.Keywords},
		{"Creator", &m.Creator},
		{"Producer", &m.Producer},
		{"CreationDate", &m.CreationDate},
		{"ModDate", &m.ModDate},
	} {
		v, err := d.eng.MetaText(d.handle, f.tag)
		if err != nil {
			return m, errors.Engine(errors.PhaseOpen, "meta_text", err)
		}
		*f.dst = v
	}
	return m, nil
}

// Permissions returns the document permission bits.
func (d *Document) Permissions() (uint32, error) {
	if err := d.state.Live(); err != nil {
		return 0, err
	}
	return d.eng.Permissions(d.handle)
}

// Save serializes the document. Not every backend supports it.
func (d *Document) Save(flags uint32) ([]byte, error) {
	if err := d.state.Live(); err != nil {
		return nil, err
	}
	out, err := d.eng.SaveDocument(d.handle, flags)
	if err != nil {
		return nil, errors.Engine(errors.PhaseOpen, "save_document", err)
	}
	return out, nil
}

// Limits returns the limits this document was opened with.
func (d *Document) Limits() Limits {
	return d.limits
}
