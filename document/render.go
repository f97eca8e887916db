package document

import (
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/quillpdf/pdfium-host/engine"
	"github.com/quillpdf/pdfium-host/errors"
)

// RenderOptions configures a render target. Width/Height take precedence;
// otherwise the page size is multiplied by Scale (default 1.0 = 72 dpi).
type RenderOptions struct {
	Width    int
	Height   int
	Scale    float64
	Rotation int // quarter turns, 0-3
	Flags    int // engine.RenderFlag* bits
}

const backgroundWhite = 0xFFFFFFFF

// target resolves the output dimensions against the page size and limits.
func (p *Page) target(opts RenderOptions) (w, h int, err error) {
	w, h = opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		pw, ph, err := p.Size()
		if err != nil {
			return 0, 0, err
		}
		scale := opts.Scale
		if scale <= 0 {
			scale = 1.0
		}
		w = int(math.Ceil(pw * scale))
		h = int(math.Ceil(ph * scale))
	}
	if w <= 0 || h <= 0 {
		return 0, 0, errors.InvalidInput(errors.PhaseRender, "render target has zero area")
	}

	if limit := p.doc.limits.MaxRenderDimension; limit > 0 {
		if w > limit {
			return 0, 0, errors.LimitExceeded(errors.PhaseRender, "render width", w, limit)
		}
		if h > limit {
			return 0, 0, errors.LimitExceeded(errors.PhaseRender, "render height", h, limit)
		}
	}
	return w, h, nil
}

// Render draws the whole page into a new RGBA image in one engine call.
func (p *Page) Render(opts RenderOptions) (*image.RGBA, error) {
	if err := p.state.Live(); err != nil {
		return nil, err
	}
	w, h, err := p.target(opts)
	if err != nil {
		return nil, err
	}

	bmp, err := p.eng.CreateBitmap(w, h)
	if err != nil {
		return nil, errors.Engine(errors.PhaseRender, "create_bitmap", err)
	}
	defer func() {
		if err := p.eng.DestroyBitmap(bmp); err != nil {
			p.doc.log.Error("destroy bitmap failed", zap.Error(err))
		}
	}()

	if err := p.eng.FillBitmap(bmp, 0, 0, w, h, backgroundWhite); err != nil {
		return nil, errors.Engine(errors.PhaseRender, "fill_bitmap", err)
	}
	if err := p.eng.RenderPage(bmp, p.native.handle, 0, 0, w, h, opts.Rotation, opts.Flags); err != nil {
		return nil, errors.Engine(errors.PhaseRender, "render_page", err)
	}

	return readBitmap(p.eng, bmp, w, h)
}

// readBitmap copies the engine's BGRA bitmap out into an RGBA image.
func readBitmap(eng engine.Engine, bmp engine.Handle, w, h int) (*image.RGBA, error) {
	buf, err := eng.BitmapBuffer(bmp)
	if err != nil {
		return nil, errors.Engine(errors.PhaseRender, "bitmap_buffer", err)
	}
	stride, err := eng.BitmapStride(bmp)
	if err != nil {
		return nil, errors.Engine(errors.PhaseRender, "bitmap_stride", err)
	}
	if stride < w*4 || len(buf) < stride*h {
		return nil, errors.New(errors.PhaseRender, errors.KindEngine).
			Code(errors.CodeEngineFailure).
			Detail("bitmap buffer smaller than %dx%d (stride %d, %d bytes)", w, h, stride, len(buf)).
			Build()
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := buf[y*stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			dst[x*4+0] = src[x*4+2]
			dst[x*4+1] = src[x*4+1]
			dst[x*4+2] = src[x*4+0]
			dst[x*4+3] = src[x*4+3]
		}
	}
	return img, nil
}
