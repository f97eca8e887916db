package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// bitmapFormatBGRA is FPDFBitmap_BGRA.
const bitmapFormatBGRA = 4

// WASMConfig holds configuration for the wazero-backed engine.
type WASMConfig struct {
	// MemoryLimitPages sets the maximum linear memory in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32
}

// WASMEngine runs a PDFium build compiled to WebAssembly inside a wazero
// runtime. Handles are guest pointers; the guest's malloc/free manage
// scratch buffers for string and struct out-parameters.
type WASMEngine struct {
	ctx     context.Context
	runtime wazero.Runtime
	module  api.Module
	malloc  api.Function
	freeFn  api.Function

	fnMu sync.RWMutex
	fns  map[string]api.Function

	mu     sync.Mutex
	pins   map[Handle]guestBuf // document handle -> pinned source bytes
	ops    map[Handle]*wasmProgressive
	nextOp Handle
}

type guestBuf struct {
	ptr  uint32
	size uint32
}

// A progressive render in the WASM backend. PDFium keys progressive state
// on the page, so the op records which page to continue/close.
type wasmProgressive struct {
	page  Handle
	pause uint32 // guest IFSDK_PAUSE
}

// NewWASMEngine compiles and instantiates a PDFium wasm binary and
// initializes the library. The context is retained for engine calls, which
// are synchronous for the engine's whole lifetime.
func NewWASMEngine(ctx context.Context, wasmBytes []byte, cfg *WASMConfig) (*WASMEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("compile pdfium module: %w", err)
	}

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("pdfium"))
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiate pdfium module: %w", err)
	}

	e := &WASMEngine{
		ctx:     ctx,
		runtime: r,
		module:  mod,
		fns:     make(map[string]api.Function),
		pins:    make(map[Handle]guestBuf),
		ops:     make(map[Handle]*wasmProgressive),
	}

	e.malloc = e.export("malloc")
	if e.malloc == nil {
		e.malloc = e.export("_malloc")
	}
	e.freeFn = e.export("free")
	if e.freeFn == nil {
		e.freeFn = e.export("_free")
	}
	if e.malloc == nil || e.freeFn == nil {
		r.Close(ctx)
		return nil, fmt.Errorf("pdfium module does not export malloc/free")
	}

	if _, err := e.call("FPDF_InitLibrary"); err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("FPDF_InitLibrary: %w", err)
	}

	Logger().Debug("wasm engine ready",
		zap.Uint32("memory_limit_pages", func() uint32 {
			if cfg != nil {
				return cfg.MemoryLimitPages
			}
			return 0
		}()))
	return e, nil
}

func (e *WASMEngine) export(name string) api.Function {
	return e.module.ExportedFunction(name)
}

func (e *WASMEngine) fn(name string) (api.Function, error) {
	e.fnMu.RLock()
	f, ok := e.fns[name]
	e.fnMu.RUnlock()
	if ok {
		return f, nil
	}

	f = e.export(name)
	if f == nil {
		return nil, fmt.Errorf("pdfium module does not export %s", name)
	}
	e.fnMu.Lock()
	e.fns[name] = f
	e.fnMu.Unlock()
	return f, nil
}

func (e *WASMEngine) call(name string, params ...uint64) ([]uint64, error) {
	f, err := e.fn(name)
	if err != nil {
		return nil, err
	}
	return f.Call(e.ctx, params...)
}

// call1 invokes an export and returns its single i32/i64 result.
func (e *WASMEngine) call1(name string, params ...uint64) (uint64, error) {
	res, err := e.call(name, params...)
	if err != nil {
		return 0, err
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0], nil
}

func (e *WASMEngine) alloc(size uint32) (uint32, error) {
	res, err := e.malloc.Call(e.ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest malloc(%d) returned null", size)
	}
	return ptr, nil
}

func (e *WASMEngine) dealloc(ptr uint32) {
	if ptr == 0 {
		return
	}
	_, _ = e.freeFn.Call(e.ctx, uint64(ptr))
}

// copyIn writes data into freshly allocated guest memory.
func (e *WASMEngine) copyIn(data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	ptr, err := e.alloc(uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if !e.module.Memory().Write(ptr, data) {
		e.dealloc(ptr)
		return 0, fmt.Errorf("guest memory write of %d bytes failed", len(data))
	}
	return ptr, nil
}

func (e *WASMEngine) cstring(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	return e.copyIn(append([]byte(s), 0))
}

func (e *WASMEngine) read(ptr, size uint32) ([]byte, error) {
	data, ok := e.module.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("guest memory read at %#x (%d bytes) out of range", ptr, size)
	}
	out := make([]byte, size)
	copy(out, data)
	return out, nil
}

func (e *WASMEngine) readU32(ptr uint32) (uint32, error) {
	v, ok := e.module.Memory().ReadUint32Le(ptr)
	if !ok {
		return 0, fmt.Errorf("guest memory read at %#x out of range", ptr)
	}
	return v, nil
}

// engineErr turns a zero return from a handle-producing call into an error
// annotated with FPDF_GetLastError.
func (e *WASMEngine) engineErr(op string) error {
	return fmt.Errorf("%s failed: engine error %d", op, e.LastError())
}

// Document

func (e *WASMEngine) LoadDocument(data []byte, password string) (Handle, error) {
	ptr, err := e.copyIn(data)
	if err != nil {
		return 0, err
	}
	pwPtr, err := e.cstring(password)
	if err != nil {
		e.dealloc(ptr)
		return 0, err
	}
	defer e.dealloc(pwPtr)

	doc, err := e.call1("FPDF_LoadMemDocument", uint64(ptr), uint64(uint32(len(data))), uint64(pwPtr))
	if err != nil {
		e.dealloc(ptr)
		return 0, err
	}
	if doc == 0 {
		e.dealloc(ptr)
		return 0, e.engineErr("FPDF_LoadMemDocument")
	}

	// The engine reads from the source buffer for the document's lifetime,
	// so it stays pinned until CloseDocument.
	e.mu.Lock()
	e.pins[Handle(doc)] = guestBuf{ptr: ptr, size: uint32(len(data))}
	e.mu.Unlock()

	return Handle(doc), nil
}

func (e *WASMEngine) CloseDocument(doc Handle) error {
	_, err := e.call("FPDF_CloseDocument", uint64(doc))

	e.mu.Lock()
	pin, ok := e.pins[doc]
	delete(e.pins, doc)
	e.mu.Unlock()
	if ok {
		e.dealloc(pin.ptr)
	}
	return err
}

func (e *WASMEngine) PageCount(doc Handle) (int, error) {
	n, err := e.call1("FPDF_GetPageCount", uint64(doc))
	return int(int32(n)), err
}

func (e *WASMEngine) MetaText(doc Handle, tag string) (string, error) {
	tagPtr, err := e.cstring(tag)
	if err != nil {
		return "", err
	}
	defer e.dealloc(tagPtr)

	need, err := e.call1("FPDF_GetMetaText", uint64(doc), uint64(tagPtr), 0, 0)
	if err != nil {
		return "", err
	}
	if need <= 2 {
		return "", nil
	}

	buf, err := e.alloc(uint32(need))
	if err != nil {
		return "", err
	}
	defer e.dealloc(buf)

	if _, err := e.call("FPDF_GetMetaText", uint64(doc), uint64(tagPtr), uint64(buf), need); err != nil {
		return "", err
	}
	raw, err := e.read(buf, uint32(need))
	if err != nil {
		return "", err
	}
	return DecodeUTF16(raw)
}

func (e *WASMEngine) Permissions(doc Handle) (uint32, error) {
	v, err := e.call1("FPDF_GetDocPermissions", uint64(doc))
	return uint32(v), err
}

// SaveDocument requires a host-provided FPDF_FILEWRITE callback, which a
// wasm guest cannot call back into. The native backend supports it.
func (e *WASMEngine) SaveDocument(doc Handle, flags uint32) ([]byte, error) {
	return nil, ErrUnsupported
}

func (e *WASMEngine) PageLabel(doc Handle, index int) (string, error) {
	need, err := e.call1("FPDF_GetPageLabel", uint64(doc), uint64(uint32(int32(index))), 0, 0)
	if err != nil {
		return "", err
	}
	if need <= 2 {
		return "", nil
	}

	buf, err := e.alloc(uint32(need))
	if err != nil {
		return "", err
	}
	defer e.dealloc(buf)

	if _, err := e.call("FPDF_GetPageLabel", uint64(doc), uint64(uint32(int32(index))), uint64(buf), need); err != nil {
		return "", err
	}
	raw, err := e.read(buf, uint32(need))
	if err != nil {
		return "", err
	}
	return DecodeUTF16(raw)
}

// Page

func (e *WASMEngine) LoadPage(doc Handle, index int) (Handle, error) {
	page, err := e.call1("FPDF_LoadPage", uint64(doc), uint64(uint32(int32(index))))
	if err != nil {
		return 0, err
	}
	if page == 0 {
		return 0, e.engineErr("FPDF_LoadPage")
	}
	return Handle(page), nil
}

func (e *WASMEngine) ClosePage(page Handle) error {
	_, err := e.call("FPDF_ClosePage", uint64(page))
	return err
}

func (e *WASMEngine) PageSize(page Handle) (float64, float64, error) {
	w, err := e.call1("FPDF_GetPageWidthF", uint64(page))
	if err != nil {
		return 0, 0, err
	}
	h, err := e.call1("FPDF_GetPageHeightF", uint64(page))
	if err != nil {
		return 0, 0, err
	}
	return float64(api.DecodeF32(w)), float64(api.DecodeF32(h)), nil
}

func (e *WASMEngine) PageRotation(page Handle) (int, error) {
	v, err := e.call1("FPDFPage_GetRotation", uint64(page))
	return int(int32(v)), err
}

func (e *WASMEngine) SetPageRotation(page Handle, rotation int) error {
	_, err := e.call("FPDFPage_SetRotation", uint64(page), uint64(uint32(int32(rotation))))
	return err
}

// Text

func (e *WASMEngine) LoadTextPage(page Handle) (Handle, error) {
	text, err := e.call1("FPDFText_LoadPage", uint64(page))
	if err != nil {
		return 0, err
	}
	if text == 0 {
		return 0, e.engineErr("FPDFText_LoadPage")
	}
	return Handle(text), nil
}

func (e *WASMEngine) CloseTextPage(text Handle) error {
	_, err := e.call("FPDFText_ClosePage", uint64(text))
	return err
}

func (e *WASMEngine) CountChars(text Handle) (int, error) {
	n, err := e.call1("FPDFText_CountChars", uint64(text))
	return int(int32(n)), err
}

func (e *WASMEngine) Text(text Handle) (string, error) {
	count, err := e.CountChars(text)
	if err != nil {
		return "", err
	}
	if count <= 0 {
		return "", nil
	}

	// count+1 UTF-16 code units, incl. terminator.
	size := uint32(count+1) * 2
	buf, err := e.alloc(size)
	if err != nil {
		return "", err
	}
	defer e.dealloc(buf)

	written, err := e.call1("FPDFText_GetText", uint64(text), 0, uint64(uint32(int32(count))), uint64(buf))
	if err != nil {
		return "", err
	}
	if int32(written) <= 0 {
		return "", nil
	}
	raw, err := e.read(buf, uint32(written)*2)
	if err != nil {
		return "", err
	}
	return DecodeUTF16(raw)
}

func (e *WASMEngine) BoundedText(text Handle, left, top, right, bottom float64) (string, error) {
	need, err := e.call1("FPDFText_GetBoundedText", uint64(text),
		api.EncodeF64(left), api.EncodeF64(top), api.EncodeF64(right), api.EncodeF64(bottom),
		0, 0)
	if err != nil {
		return "", err
	}
	if int32(need) <= 0 {
		return "", nil
	}

	buf, err := e.alloc(uint32(need) * 2)
	if err != nil {
		return "", err
	}
	defer e.dealloc(buf)

	if _, err := e.call("FPDFText_GetBoundedText", uint64(text),
		api.EncodeF64(left), api.EncodeF64(top), api.EncodeF64(right), api.EncodeF64(bottom),
		uint64(buf), need); err != nil {
		return "", err
	}
	raw, err := e.read(buf, uint32(need)*2)
	if err != nil {
		return "", err
	}
	return DecodeUTF16(raw)
}

func (e *WASMEngine) CharFontInfo(text Handle, index int) (FontInfo, error) {
	var info FontInfo
	idx := uint64(uint32(int32(index)))

	size, err := e.call1("FPDFText_GetFontSize", uint64(text), idx)
	if err != nil {
		return info, err
	}
	info.Size = api.DecodeF64(size)

	weight, err := e.call1("FPDFText_GetFontWeight", uint64(text), idx)
	if err != nil {
		return info, err
	}
	info.Weight = int(int32(weight))

	if mode, err := e.call1("FPDFText_GetTextRenderMode", uint64(text), idx); err == nil {
		info.RenderMode = int(int32(mode))
	}

	// Two-call pattern: first call sizes the name buffer.
	flagsPtr, err := e.alloc(4)
	if err != nil {
		return info, err
	}
	defer e.dealloc(flagsPtr)

	need, err := e.call1("FPDFText_GetFontInfo", uint64(text), idx, 0, 0, uint64(flagsPtr))
	if err != nil {
		return info, err
	}
	if need > 0 {
		buf, err := e.alloc(uint32(need))
		if err != nil {
			return info, err
		}
		defer e.dealloc(buf)
		if _, err := e.call("FPDFText_GetFontInfo", uint64(text), idx, uint64(buf), need, uint64(flagsPtr)); err != nil {
			return info, err
		}
		raw, err := e.read(buf, uint32(need))
		if err != nil {
			return info, err
		}
		// Font names come back as UTF-8, NUL terminated.
		for i, b := range raw {
			if b == 0 {
				raw = raw[:i]
				break
			}
		}
		info.Name = string(raw)
	}
	flags, err := e.readU32(flagsPtr)
	if err != nil {
		return info, err
	}
	info.Flags = int(int32(flags))

	return info, nil
}

// Annotations

func (e *WASMEngine) AnnotationCount(page Handle) (int, error) {
	n, err := e.call1("FPDFPage_GetAnnotCount", uint64(page))
	return int(int32(n)), err
}

func (e *WASMEngine) OpenAnnotation(page Handle, index int) (Handle, error) {
	annot, err := e.call1("FPDFPage_GetAnnot", uint64(page), uint64(uint32(int32(index))))
	if err != nil {
		return 0, err
	}
	if annot == 0 {
		return 0, e.engineErr("FPDFPage_GetAnnot")
	}
	return Handle(annot), nil
}

func (e *WASMEngine) CloseAnnotation(annot Handle) error {
	_, err := e.call("FPDFPage_CloseAnnot", uint64(annot))
	return err
}

func (e *WASMEngine) AnnotationSubtype(annot Handle) (int, error) {
	v, err := e.call1("FPDFAnnot_GetSubtype", uint64(annot))
	return int(int32(v)), err
}

func (e *WASMEngine) AnnotationRect(annot Handle) (Rect, error) {
	// FS_RECTF: four f32 fields.
	buf, err := e.alloc(16)
	if err != nil {
		return Rect{}, err
	}
	defer e.dealloc(buf)

	ok, err := e.call1("FPDFAnnot_GetRect", uint64(annot), uint64(buf))
	if err != nil {
		return Rect{}, err
	}
	if ok == 0 {
		return Rect{}, e.engineErr("FPDFAnnot_GetRect")
	}

	mem := e.module.Memory()
	var vals [4]float32
	for i := range vals {
		bits, okRead := mem.ReadUint32Le(buf + uint32(i*4))
		if !okRead {
			return Rect{}, fmt.Errorf("guest memory read of FS_RECTF failed")
		}
		vals[i] = api.DecodeF32(uint64(bits))
	}
	return Rect{Left: vals[0], Top: vals[1], Right: vals[2], Bottom: vals[3]}, nil
}

func (e *WASMEngine) AnnotationColor(annot Handle) (Color, bool, error) {
	buf, err := e.alloc(16)
	if err != nil {
		return Color{}, false, err
	}
	defer e.dealloc(buf)

	ok, err := e.call1("FPDFAnnot_GetColor", uint64(annot), 0,
		uint64(buf), uint64(buf+4), uint64(buf+8), uint64(buf+12))
	if err != nil {
		return Color{}, false, err
	}
	if ok == 0 {
		return Color{}, false, nil
	}

	var c Color
	for i, dst := range []*uint32{&c.R, &c.G, &c.B, &c.A} {
		v, err := e.readU32(buf + uint32(i*4))
		if err != nil {
			return Color{}, false, err
		}
		*dst = v
	}
	return c, true, nil
}

// Bitmaps and rendering

func (e *WASMEngine) CreateBitmap(width, height int) (Handle, error) {
	bmp, err := e.call1("FPDFBitmap_CreateEx",
		uint64(uint32(int32(width))), uint64(uint32(int32(height))),
		bitmapFormatBGRA, 0, 0)
	if err != nil {
		return 0, err
	}
	if bmp == 0 {
		return 0, e.engineErr("FPDFBitmap_CreateEx")
	}
	return Handle(bmp), nil
}

func (e *WASMEngine) FillBitmap(bmp Handle, left, top, width, height int, color uint32) error {
	_, err := e.call("FPDFBitmap_FillRect", uint64(bmp),
		uint64(uint32(int32(left))), uint64(uint32(int32(top))),
		uint64(uint32(int32(width))), uint64(uint32(int32(height))),
		uint64(color))
	return err
}

func (e *WASMEngine) BitmapStride(bmp Handle) (int, error) {
	v, err := e.call1("FPDFBitmap_GetStride", uint64(bmp))
	return int(int32(v)), err
}

func (e *WASMEngine) BitmapBuffer(bmp Handle) ([]byte, error) {
	ptr, err := e.call1("FPDFBitmap_GetBuffer", uint64(bmp))
	if err != nil {
		return nil, err
	}
	stride, err := e.BitmapStride(bmp)
	if err != nil {
		return nil, err
	}
	height, err := e.call1("FPDFBitmap_GetHeight", uint64(bmp))
	if err != nil {
		return nil, err
	}
	return e.read(uint32(ptr), uint32(stride)*uint32(height))
}

func (e *WASMEngine) DestroyBitmap(bmp Handle) error {
	_, err := e.call("FPDFBitmap_Destroy", uint64(bmp))
	return err
}

func (e *WASMEngine) RenderPage(bmp, page Handle, x, y, width, height, rotation, flags int) error {
	_, err := e.call("FPDF_RenderPageBitmap", uint64(bmp), uint64(page),
		uint64(uint32(int32(x))), uint64(uint32(int32(y))),
		uint64(uint32(int32(width))), uint64(uint32(int32(height))),
		uint64(uint32(int32(rotation))), uint64(uint32(int32(flags))))
	return err
}

// Progressive rendering. The guest cannot call back into the host, so the
// IFSDK_PAUSE callback slot stays null and the engine renders the whole
// page within the first slice. The state machine still sees the full
// Start/Continue/Close shape.

func (e *WASMEngine) StartProgressive(bmp, page Handle, x, y, width, height, rotation, flags int) (Handle, RenderStatus, error) {
	// IFSDK_PAUSE: { version i32, NeedToPauseNow ptr, user ptr }
	pause, err := e.alloc(12)
	if err != nil {
		return 0, RenderFailed, err
	}
	mem := e.module.Memory()
	mem.WriteUint32Le(pause, 1)
	mem.WriteUint32Le(pause+4, 0)
	mem.WriteUint32Le(pause+8, 0)

	status, err := e.call1("FPDF_RenderPageBitmap_Start", uint64(bmp), uint64(page),
		uint64(uint32(int32(x))), uint64(uint32(int32(y))),
		uint64(uint32(int32(width))), uint64(uint32(int32(height))),
		uint64(uint32(int32(rotation))), uint64(uint32(int32(flags))),
		uint64(pause))
	if err != nil {
		e.dealloc(pause)
		return 0, RenderFailed, err
	}

	e.mu.Lock()
	e.nextOp++
	op := e.nextOp
	e.ops[op] = &wasmProgressive{page: page, pause: pause}
	e.mu.Unlock()

	return op, RenderStatus(int32(status)), nil
}

func (e *WASMEngine) ContinueProgressive(op Handle) (RenderStatus, error) {
	e.mu.Lock()
	p, ok := e.ops[op]
	e.mu.Unlock()
	if !ok {
		return RenderFailed, fmt.Errorf("unknown progressive render %d", op)
	}

	status, err := e.call1("FPDF_RenderPage_Continue", uint64(p.page), uint64(p.pause))
	if err != nil {
		return RenderFailed, err
	}
	return RenderStatus(int32(status)), nil
}

func (e *WASMEngine) CloseProgressive(op Handle) error {
	e.mu.Lock()
	p, ok := e.ops[op]
	delete(e.ops, op)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown progressive render %d", op)
	}

	_, err := e.call("FPDF_RenderPage_Close", uint64(p.page))
	e.dealloc(p.pause)
	return err
}

func (e *WASMEngine) LastError() uint32 {
	v, err := e.call1("FPDF_GetLastError")
	if err != nil {
		return ErrCodeUnknown
	}
	return uint32(v)
}

// Close destroys the PDFium library and the wazero runtime. Documents must
// already be closed; any still-pinned source buffers are freed regardless.
func (e *WASMEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	for doc, pin := range e.pins {
		Logger().Warn("document still open at engine close", zap.Uint32("handle", uint32(doc)))
		e.dealloc(pin.ptr)
	}
	e.pins = map[Handle]guestBuf{}
	e.mu.Unlock()

	_, _ = e.call("FPDF_DestroyLibrary")
	return e.runtime.Close(ctx)
}

var _ Engine = (*WASMEngine)(nil)
