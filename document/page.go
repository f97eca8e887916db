package document

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/quillpdf/pdfium-host/engine"
	"github.com/quillpdf/pdfium-host/errors"
	"github.com/quillpdf/pdfium-host/resource"
)

// Page is a lender resource: fonts, annotations and progressive renders
// derived from it borrow its native memory through the ledger. Closing the
// page runs the teardown that is exclusively its own (the lazily created
// text-page handle) but defers the final page-handle release until the
// last borrower is gone.
type Page struct {
	doc    *Document
	eng    engine.Engine
	state  *resource.State
	native *pageNative
	index  int
}

// pageNative is the teardown target. It is captured by the finalizer
// fallback closure and therefore must not reference the Page itself.
type pageNative struct {
	eng    engine.Engine
	ledger *resource.Ledger
	handle engine.Handle

	mu   sync.Mutex
	text engine.Handle // lazily created, owned outright by the page
}

func (n *pageNative) teardown() error {
	var errs error

	n.mu.Lock()
	text := n.text
	n.text = 0
	n.mu.Unlock()

	if text != 0 {
		if err := n.eng.CloseTextPage(text); err != nil {
			errs = multierr.Append(errs, errors.Engine(errors.PhaseTeardown, "close_text_page", err))
		}
	}

	// The page handle itself is ledger-gated: released now if no views
	// borrow it, deferred to the last release otherwise.
	n.ledger.CloseLender()
	return errs
}

// Page loads the page at index. The caller owns the returned page and must
// Close it before closing the document.
func (d *Document) Page(index int) (*Page, error) {
	if err := d.state.Live(); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, errors.InvalidInput(errors.PhasePage, "negative page index")
	}

	handle, err := d.eng.LoadPage(d.handle, index)
	if err != nil {
		return nil, errors.Engine(errors.PhasePage, "load_page", err)
	}

	eng := d.eng
	log := d.log
	native := &pageNative{
		eng:    eng,
		handle: handle,
	}
	native.ledger = resource.NewLedger("page", func() {
		if err := eng.ClosePage(handle); err != nil {
			log.Error("close page failed", zap.Int("page", index), zap.Error(err))
		}
	})

	p := &Page{
		doc:    d,
		eng:    eng,
		state:  resource.NewState("page", errors.CodePageClosed),
		native: native,
		index:  index,
	}
	resource.Bind(p.state, p, native.teardown)

	return p, nil
}

// Close disposes the page. Views derived from it stay usable until they
// are closed themselves; the native page handle is released when the last
// of them goes.
func (p *Page) Close() error {
	return p.state.Close()
}

// Index returns the zero-based page index.
func (p *Page) Index() int {
	return p.index
}

// Retain adds a borrow on the page's native memory. Derived views call
// this at construction; external callers should not need it.
func (p *Page) Retain() {
	p.native.ledger.Retain()
}

// Release returns a borrow taken with Retain.
func (p *Page) Release() {
	p.native.ledger.Release()
}

// Borrows reports the outstanding borrow count, for diagnostics and tests.
func (p *Page) Borrows() int {
	return p.native.ledger.Borrows()
}

// Size returns the page width and height in PDF points.
func (p *Page) Size() (width, height float64, err error) {
	if err := p.state.Live(); err != nil {
		return 0, 0, err
	}
	w, h, err := p.eng.PageSize(p.native.handle)
	if err != nil {
		return 0, 0, errors.Engine(errors.PhasePage, "page_size", err)
	}
	return w, h, nil
}

// Rotation returns the page rotation in quarter turns (0-3).
func (p *Page) Rotation() (int, error) {
	if err := p.state.Live(); err != nil {
		return 0, err
	}
	return p.eng.PageRotation(p.native.handle)
}

// SetRotation sets the page rotation in quarter turns (0-3).
func (p *Page) SetRotation(rotation int) error {
	if err := p.state.Live(); err != nil {
		return err
	}
	if rotation < 0 || rotation > 3 {
		return errors.InvalidInput(errors.PhasePage, "rotation must be 0-3")
	}
	return p.eng.SetPageRotation(p.native.handle, rotation)
}

// Label returns the page's display label, or "" if it has none.
func (p *Page) Label() (string, error) {
	if err := p.state.Live(); err != nil {
		return "", err
	}
	if err := p.doc.state.Live(); err != nil {
		return "", err
	}
	return p.eng.PageLabel(p.doc.handle, p.index)
}

// textPage lazily creates the engine text page. It is owned outright by
// the page and closed during page teardown.
func (p *Page) textPage() (engine.Handle, error) {
	if err := p.state.Live(); err != nil {
		return 0, err
	}

	n := p.native
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.text != 0 {
		return n.text, nil
	}
	text, err := p.eng.LoadTextPage(n.handle)
	if err != nil {
		return 0, errors.Engine(errors.PhaseText, "load_text_page", err)
	}
	n.text = text
	return text, nil
}

// Text extracts the page's full text, bounded by the document's text
// limit.
func (p *Page) Text() (string, error) {
	text, err := p.textPage()
	if err != nil {
		return "", err
	}

	if limit := p.doc.limits.MaxTextChars; limit > 0 {
		count, err := p.eng.CountChars(text)
		if err != nil {
			return "", errors.Engine(errors.PhaseText, "count_chars", err)
		}
		if count > limit {
			return "", errors.LimitExceeded(errors.PhaseText, "text length", count, limit)
		}
	}

	s, err := p.eng.Text(text)
	if err != nil {
		return "", errors.Engine(errors.PhaseText, "get_text", err)
	}
	return s, nil
}

// BoundedText extracts the text inside a page-space rectangle.
func (p *Page) BoundedText(left, top, right, bottom float64) (string, error) {
	text, err := p.textPage()
	if err != nil {
		return "", err
	}
	s, err := p.eng.BoundedText(text, left, top, right, bottom)
	if err != nil {
		return "", errors.Engine(errors.PhaseText, "get_bounded_text", err)
	}
	return s, nil
}

// AnnotationCount returns the number of annotations on the page.
func (p *Page) AnnotationCount() (int, error) {
	if err := p.state.Live(); err != nil {
		return 0, err
	}
	return p.eng.AnnotationCount(p.native.handle)
}
