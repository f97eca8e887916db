package document

import (
	"github.com/quillpdf/pdfium-host/engine"
	"github.com/quillpdf/pdfium-host/errors"
	"github.com/quillpdf/pdfium-host/resource"
)

// Font is a view of the font behind one character of a page's text. It
// owns no native handle of its own: the metrics are read out of the page's
// text-page memory at construction, and the borrow taken on the page keeps
// that memory valid until the view is closed - even if the page itself is
// closed first.
type Font struct {
	state     *resource.State
	charIndex int
	info      engine.FontInfo
}

// Font derives a font view for the character at charIndex.
func (p *Page) Font(charIndex int) (*Font, error) {
	text, err := p.textPage()
	if err != nil {
		return nil, err
	}
	if charIndex < 0 {
		return nil, errors.InvalidInput(errors.PhaseText, "negative char index")
	}

	// Borrow before touching the parent's memory; release on every exit
	// path that does not hand the borrow to the view.
	release := p.native.ledger.Release
	p.native.ledger.Retain()

	info, err := p.eng.CharFontInfo(text, charIndex)
	if err != nil {
		release()
		return nil, errors.Engine(errors.PhaseText, "char_font_info", err)
	}

	f := &Font{
		state:     resource.NewState("font", errors.CodeFontClosed),
		charIndex: charIndex,
		info:      info,
	}
	resource.Bind(f.state, f, func() error {
		release()
		return nil
	})

	return f, nil
}

// Close releases the view's borrow on its page. Idempotent.
func (f *Font) Close() error {
	return f.state.Close()
}

// CharIndex returns the character index this view describes.
func (f *Font) CharIndex() int {
	return f.charIndex
}

// Name returns the font's base name.
func (f *Font) Name() (string, error) {
	if err := f.state.Live(); err != nil {
		return "", err
	}
	return f.info.Name, nil
}

// Size returns the font size in points.
func (f *Font) Size() (float64, error) {
	if err := f.state.Live(); err != nil {
		return 0, err
	}
	return f.info.Size, nil
}

// Weight returns the font weight (400 regular, 700 bold).
func (f *Font) Weight() (int, error) {
	if err := f.state.Live(); err != nil {
		return 0, err
	}
	return f.info.Weight, nil
}

// Flags returns the font descriptor flags.
func (f *Font) Flags() (int, error) {
	if err := f.state.Live(); err != nil {
		return 0, err
	}
	return f.info.Flags, nil
}

// RenderMode returns the text render mode for the character.
func (f *Font) RenderMode() (int, error) {
	if err := f.state.Live(); err != nil {
		return 0, err
	}
	return f.info.RenderMode, nil
}
