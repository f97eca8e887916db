//go:build darwin || linux || freebsd

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"
)

// NativeEngine loads a PDFium shared library with dlopen and resolves the
// FPDF_* entry points the host layer consumes. Raw engine pointers never
// leave this type: callers see dense uint32 handles mapped to pointers in a
// private table, the same discipline the WASM backend gets for free from
// 32-bit guest pointers.
type NativeEngine struct {
	lib uintptr

	// Core
	initLibrary    func()
	destroyLibrary func()
	getLastError   func() uint32

	// Document
	loadMemDocument func(data unsafe.Pointer, size int32, password string) uintptr
	closeDocument   func(doc uintptr)
	getPageCount    func(doc uintptr) int32
	getMetaText     func(doc uintptr, tag string, buf unsafe.Pointer, buflen uint32) uint32
	getPermissions  func(doc uintptr) uint32
	saveAsCopy      func(doc uintptr, fileWrite unsafe.Pointer, flags uint32) int32
	getPageLabel    func(doc uintptr, index int32, buf unsafe.Pointer, buflen uint32) uint32

	// Page
	loadPage        func(doc uintptr, index int32) uintptr
	closePage       func(page uintptr)
	getPageWidthF   func(page uintptr) float32
	getPageHeightF  func(page uintptr) float32
	pageGetRotation func(page uintptr) int32
	pageSetRotation func(page uintptr, rotation int32)

	// Text
	textLoadPage       func(page uintptr) uintptr
	textClosePage      func(text uintptr)
	textCountChars     func(text uintptr) int32
	textGetText        func(text uintptr, start, count int32, buf unsafe.Pointer) int32
	textGetBoundedText func(text uintptr, l, t, r, b float64, buf unsafe.Pointer, buflen int32) int32
	textGetFontSize    func(text uintptr, index int32) float64
	textGetFontWeight  func(text uintptr, index int32) int32
	textGetFontInfo    func(text uintptr, index int32, buf unsafe.Pointer, buflen uint32, flags unsafe.Pointer) uint32
	textGetRenderMode  func(text uintptr, index int32) int32

	// Annotations
	pageGetAnnotCount func(page uintptr) int32
	pageGetAnnot      func(page uintptr, index int32) uintptr
	pageCloseAnnot    func(annot uintptr)
	annotGetSubtype   func(annot uintptr) int32
	annotGetRect      func(annot uintptr, rect unsafe.Pointer) int32
	annotGetColor     func(annot uintptr, colorType int32, r, g, b, a unsafe.Pointer) int32

	// Bitmaps / render
	bitmapCreateEx   func(width, height, format int32, firstScan unsafe.Pointer, stride int32) uintptr
	bitmapFillRect   func(bmp uintptr, left, top, width, height int32, color uint32) int32
	bitmapGetBuffer  func(bmp uintptr) uintptr
	bitmapGetStride  func(bmp uintptr) int32
	bitmapGetHeight  func(bmp uintptr) int32
	bitmapDestroy    func(bmp uintptr)
	renderPageBitmap func(bmp, page uintptr, x, y, width, height, rotation, flags int32)

	// Progressive render
	renderPageStart    func(bmp, page uintptr, x, y, width, height, rotation, flags int32, pause unsafe.Pointer) int32
	renderPageContinue func(page uintptr, pause unsafe.Pointer) int32
	renderPageClose    func(page uintptr)

	mu         sync.Mutex
	handles    map[Handle]uintptr
	nextHandle Handle
	ops        map[Handle]*nativeProgressive
	pins       map[Handle][]byte // document handle -> pinned source bytes
	saveBuf    []byte

	// Slice budget for the progressive pause callback.
	sliceBudget   time.Duration
	sliceDeadline time.Time
}

type nativeProgressive struct {
	page  uintptr
	pause *pauseInfo
}

// pauseInfo mirrors IFSDK_PAUSE.
type pauseInfo struct {
	version        int32
	_              int32
	needToPauseNow uintptr
	user           uintptr
}

// fileWriteInfo mirrors FPDF_FILEWRITE.
type fileWriteInfo struct {
	version    int32
	_          int32
	writeBlock uintptr
}

// NativeConfig holds configuration for the native engine.
type NativeConfig struct {
	// SliceBudget bounds how long one progressive render slice may run
	// before the pause callback asks the engine to yield. Zero means 10ms.
	SliceBudget time.Duration
}

// activeNative is the engine whose progressive callback is currently
// armed. PDFium invokes the pause callback synchronously inside Start and
// Continue, both of which hold e.mu, so a single slot suffices.
var (
	activeNativeMu sync.Mutex
	activeNative   *NativeEngine
)

var (
	pauseCallbackOnce sync.Once
	pauseCallbackPtr  uintptr
	writeCallbackOnce sync.Once
	writeCallbackPtr  uintptr
)

func pauseCallback() uintptr {
	pauseCallbackOnce.Do(func() {
		pauseCallbackPtr = purego.NewCallback(func(pause uintptr) int32 {
			activeNativeMu.Lock()
			e := activeNative
			activeNativeMu.Unlock()
			if e == nil {
				return 0
			}
			if time.Now().After(e.sliceDeadline) {
				return 1
			}
			return 0
		})
	})
	return pauseCallbackPtr
}

func writeCallback() uintptr {
	writeCallbackOnce.Do(func() {
		writeCallbackPtr = purego.NewCallback(func(pThis, pData uintptr, size uint32) int32 {
			activeNativeMu.Lock()
			e := activeNative
			activeNativeMu.Unlock()
			if e == nil || pData == 0 || size == 0 {
				return 1
			}
			chunk := unsafe.Slice((*byte)(unsafe.Pointer(pData)), size)
			e.saveBuf = append(e.saveBuf, chunk...)
			return 1
		})
	})
	return writeCallbackPtr
}

// NewNativeEngine dlopens the PDFium shared library at path and initializes
// it.
func NewNativeEngine(path string, cfg *NativeConfig) (*NativeEngine, error) {
	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("load pdfium library: %w", err)
	}

	e := &NativeEngine{
		lib:         lib,
		handles:     make(map[Handle]uintptr),
		ops:         make(map[Handle]*nativeProgressive),
		pins:        make(map[Handle][]byte),
		sliceBudget: 10 * time.Millisecond,
	}
	if cfg != nil && cfg.SliceBudget > 0 {
		e.sliceBudget = cfg.SliceBudget
	}

	for _, s := range []struct {
		name string
		fn   any
	}{
		{"FPDF_InitLibrary", &e.initLibrary},
		{"FPDF_DestroyLibrary", &e.destroyLibrary},
		{"FPDF_GetLastError", &e.getLastError},
		{"FPDF_LoadMemDocument", &e.loadMemDocument},
		{"FPDF_CloseDocument", &e.closeDocument},
		{"FPDF_GetPageCount", &e.getPageCount},
		{"FPDF_GetMetaText", &e.getMetaText},
		{"FPDF_GetDocPermissions", &e.getPermissions},
		{"FPDF_SaveAsCopy", &e.saveAsCopy},
		{"FPDF_GetPageLabel", &e.getPageLabel},
		{"FPDF_LoadPage", &e.loadPage},
		{"FPDF_ClosePage", &e.closePage},
		{"FPDF_GetPageWidthF", &e.getPageWidthF},
		{"FPDF_GetPageHeightF", &e.getPageHeightF},
		{"FPDFPage_GetRotation", &e.pageGetRotation},
		{"FPDFPage_SetRotation", &e.pageSetRotation},
		{"FPDFText_LoadPage", &e.textLoadPage},
		{"FPDFText_ClosePage", &e.textClosePage},
		{"FPDFText_CountChars", &e.textCountChars},
		{"FPDFText_GetText", &e.textGetText},
		{"FPDFText_GetBoundedText", &e.textGetBoundedText},
		{"FPDFText_GetFontSize", &e.textGetFontSize},
		{"FPDFText_GetFontWeight", &e.textGetFontWeight},
		{"FPDFText_GetFontInfo", &e.textGetFontInfo},
		{"FPDFText_GetTextRenderMode", &e.textGetRenderMode},
		{"FPDFPage_GetAnnotCount", &e.pageGetAnnotCount},
		{"FPDFPage_GetAnnot", &e.pageGetAnnot},
		{"FPDFPage_CloseAnnot", &e.pageCloseAnnot},
		{"FPDFAnnot_GetSubtype", &e.annotGetSubtype},
		{"FPDFAnnot_GetRect", &e.annotGetRect},
		{"FPDFAnnot_GetColor", &e.annotGetColor},
		{"FPDFBitmap_CreateEx", &e.bitmapCreateEx},
		{"FPDFBitmap_FillRect", &e.bitmapFillRect},
		{"FPDFBitmap_GetBuffer", &e.bitmapGetBuffer},
		{"FPDFBitmap_GetStride", &e.bitmapGetStride},
		{"FPDFBitmap_GetHeight", &e.bitmapGetHeight},
		{"FPDFBitmap_Destroy", &e.bitmapDestroy},
		{"FPDF_RenderPageBitmap", &e.renderPageBitmap},
		{"FPDF_RenderPageBitmap_Start", &e.renderPageStart},
		{"FPDF_RenderPage_Continue", &e.renderPageContinue},
		{"FPDF_RenderPage_Close", &e.renderPageClose},
	} {
		purego.RegisterLibFunc(s.fn, lib, s.name)
	}

	e.initLibrary()
	Logger().Debug("native engine ready", zap.String("library", path))
	return e, nil
}

// intern stores a raw engine pointer and returns its handle.
func (e *NativeEngine) intern(ptr uintptr) Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextHandle++
	e.handles[e.nextHandle] = ptr
	return e.nextHandle
}

func (e *NativeEngine) resolve(h Handle) (uintptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ptr, ok := e.handles[h]
	if !ok {
		return 0, fmt.Errorf("unknown native handle %d", h)
	}
	return ptr, nil
}

func (e *NativeEngine) drop(h Handle) (uintptr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ptr, ok := e.handles[h]
	if !ok {
		return 0, fmt.Errorf("unknown native handle %d", h)
	}
	delete(e.handles, h)
	return ptr, nil
}

func (e *NativeEngine) engineErr(op string) error {
	return fmt.Errorf("%s failed: engine error %d", op, e.getLastError())
}

// Document

func (e *NativeEngine) LoadDocument(data []byte, password string) (Handle, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty document data")
	}

	// The engine reads from the buffer for the document's lifetime; pin it.
	pinned := make([]byte, len(data))
	copy(pinned, data)

	doc := e.loadMemDocument(unsafe.Pointer(&pinned[0]), int32(len(pinned)), password)
	if doc == 0 {
		return 0, e.engineErr("FPDF_LoadMemDocument")
	}

	h := e.intern(doc)
	e.mu.Lock()
	e.pins[h] = pinned
	e.mu.Unlock()
	return h, nil
}

func (e *NativeEngine) CloseDocument(doc Handle) error {
	ptr, err := e.drop(doc)
	if err != nil {
		return err
	}
	e.closeDocument(ptr)
	e.mu.Lock()
	delete(e.pins, doc)
	e.mu.Unlock()
	return nil
}

func (e *NativeEngine) PageCount(doc Handle) (int, error) {
	ptr, err := e.resolve(doc)
	if err != nil {
		return 0, err
	}
	return int(e.getPageCount(ptr)), nil
}

func (e *NativeEngine) MetaText(doc Handle, tag string) (string, error) {
	ptr, err := e.resolve(doc)
	if err != nil {
		return "", err
	}
	need := e.getMetaText(ptr, tag, nil, 0)
	if need <= 2 {
		return "", nil
	}
	buf := make([]byte, need)
	e.getMetaText(ptr, tag, unsafe.Pointer(&buf[0]), need)
	return DecodeUTF16(buf)
}

func (e *NativeEngine) Permissions(doc Handle) (uint32, error) {
	ptr, err := e.resolve(doc)
	if err != nil {
		return 0, err
	}
	return e.getPermissions(ptr), nil
}

func (e *NativeEngine) SaveDocument(doc Handle, flags uint32) ([]byte, error) {
	ptr, err := e.resolve(doc)
	if err != nil {
		return nil, err
	}

	fw := &fileWriteInfo{version: 1, writeBlock: writeCallback()}

	activeNativeMu.Lock()
	activeNative = e
	activeNativeMu.Unlock()
	e.saveBuf = nil

	ok := e.saveAsCopy(ptr, unsafe.Pointer(fw), flags)

	activeNativeMu.Lock()
	activeNative = nil
	activeNativeMu.Unlock()

	if ok == 0 {
		return nil, e.engineErr("FPDF_SaveAsCopy")
	}
	out := e.saveBuf
	e.saveBuf = nil
	return out, nil
}

func (e *NativeEngine) PageLabel(doc Handle, index int) (string, error) {
	ptr, err := e.resolve(doc)
	if err != nil {
		return "", err
	}
	need := e.getPageLabel(ptr, int32(index), nil, 0)
	if need <= 2 {
		return "", nil
	}
	buf := make([]byte, need)
	e.getPageLabel(ptr, int32(index), unsafe.Pointer(&buf[0]), need)
	return DecodeUTF16(buf)
}

// Page

func (e *NativeEngine) LoadPage(doc Handle, index int) (Handle, error) {
	ptr, err := e.resolve(doc)
	if err != nil {
		return 0, err
	}
	page := e.loadPage(ptr, int32(index))
	if page == 0 {
		return 0, e.engineErr("FPDF_LoadPage")
	}
	return e.intern(page), nil
}

func (e *NativeEngine) ClosePage(page Handle) error {
	ptr, err := e.drop(page)
	if err != nil {
		return err
	}
	e.closePage(ptr)
	return nil
}

func (e *NativeEngine) PageSize(page Handle) (float64, float64, error) {
	ptr, err := e.resolve(page)
	if err != nil {
		return 0, 0, err
	}
	return float64(e.getPageWidthF(ptr)), float64(e.getPageHeightF(ptr)), nil
}

func (e *NativeEngine) PageRotation(page Handle) (int, error) {
	ptr, err := e.resolve(page)
	if err != nil {
		return 0, err
	}
	return int(e.pageGetRotation(ptr)), nil
}

func (e *NativeEngine) SetPageRotation(page Handle, rotation int) error {
	ptr, err := e.resolve(page)
	if err != nil {
		return err
	}
	e.pageSetRotation(ptr, int32(rotation))
	return nil
}

// Text

func (e *NativeEngine) LoadTextPage(page Handle) (Handle, error) {
	ptr, err := e.resolve(page)
	if err != nil {
		return 0, err
	}
	text := e.textLoadPage(ptr)
	if text == 0 {
		return 0, e.engineErr("FPDFText_LoadPage")
	}
	return e.intern(text), nil
}

func (e *NativeEngine) CloseTextPage(text Handle) error {
	ptr, err := e.drop(text)
	if err != nil {
		return err
	}
	e.textClosePage(ptr)
	return nil
}

func (e *NativeEngine) CountChars(text Handle) (int, error) {
	ptr, err := e.resolve(text)
	if err != nil {
		return 0, err
	}
	return int(e.textCountChars(ptr)), nil
}

func (e *NativeEngine) Text(text Handle) (string, error) {
	ptr, err := e.resolve(text)
	if err != nil {
		return "", err
	}
	count := e.textCountChars(ptr)
	if count <= 0 {
		return "", nil
	}
	buf := make([]byte, (count+1)*2)
	written := e.textGetText(ptr, 0, count, unsafe.Pointer(&buf[0]))
	if written <= 0 {
		return "", nil
	}
	return DecodeUTF16(buf[:written*2])
}

func (e *NativeEngine) BoundedText(text Handle, left, top, right, bottom float64) (string, error) {
	ptr, err := e.resolve(text)
	if err != nil {
		return "", err
	}
	need := e.textGetBoundedText(ptr, left, top, right, bottom, nil, 0)
	if need <= 0 {
		return "", nil
	}
	buf := make([]byte, need*2)
	e.textGetBoundedText(ptr, left, top, right, bottom, unsafe.Pointer(&buf[0]), need)
	return DecodeUTF16(buf)
}

func (e *NativeEngine) CharFontInfo(text Handle, index int) (FontInfo, error) {
	var info FontInfo
	ptr, err := e.resolve(text)
	if err != nil {
		return info, err
	}

	info.Size = e.textGetFontSize(ptr, int32(index))
	info.Weight = int(e.textGetFontWeight(ptr, int32(index)))
	info.RenderMode = int(e.textGetRenderMode(ptr, int32(index)))

	var flags int32
	need := e.textGetFontInfo(ptr, int32(index), nil, 0, unsafe.Pointer(&flags))
	if need > 0 {
		buf := make([]byte, need)
		e.textGetFontInfo(ptr, int32(index), unsafe.Pointer(&buf[0]), need, unsafe.Pointer(&flags))
		for i, b := range buf {
			if b == 0 {
				buf = buf[:i]
				break
			}
		}
		info.Name = string(buf)
	}
	info.Flags = int(flags)
	return info, nil
}

// Annotations

func (e *NativeEngine) AnnotationCount(page Handle) (int, error) {
	ptr, err := e.resolve(page)
	if err != nil {
		return 0, err
	}
	return int(e.pageGetAnnotCount(ptr)), nil
}

func (e *NativeEngine) OpenAnnotation(page Handle, index int) (Handle, error) {
	ptr, err := e.resolve(page)
	if err != nil {
		return 0, err
	}
	annot := e.pageGetAnnot(ptr, int32(index))
	if annot == 0 {
		return 0, e.engineErr("FPDFPage_GetAnnot")
	}
	return e.intern(annot), nil
}

func (e *NativeEngine) CloseAnnotation(annot Handle) error {
	ptr, err := e.drop(annot)
	if err != nil {
		return err
	}
	e.pageCloseAnnot(ptr)
	return nil
}

func (e *NativeEngine) AnnotationSubtype(annot Handle) (int, error) {
	ptr, err := e.resolve(annot)
	if err != nil {
		return 0, err
	}
	return int(e.annotGetSubtype(ptr)), nil
}

func (e *NativeEngine) AnnotationRect(annot Handle) (Rect, error) {
	ptr, err := e.resolve(annot)
	if err != nil {
		return Rect{}, err
	}
	var rect [4]float32
	if e.annotGetRect(ptr, unsafe.Pointer(&rect[0])) == 0 {
		return Rect{}, e.engineErr("FPDFAnnot_GetRect")
	}
	return Rect{Left: rect[0], Top: rect[1], Right: rect[2], Bottom: rect[3]}, nil
}

func (e *NativeEngine) AnnotationColor(annot Handle) (Color, bool, error) {
	ptr, err := e.resolve(annot)
	if err != nil {
		return Color{}, false, err
	}
	var r, g, b, a uint32
	ok := e.annotGetColor(ptr, 0,
		unsafe.Pointer(&r), unsafe.Pointer(&g), unsafe.Pointer(&b), unsafe.Pointer(&a))
	if ok == 0 {
		return Color{}, false, nil
	}
	return Color{R: r, G: g, B: b, A: a}, true, nil
}

// Bitmaps and rendering

func (e *NativeEngine) CreateBitmap(width, height int) (Handle, error) {
	bmp := e.bitmapCreateEx(int32(width), int32(height), bitmapFormatBGRA, nil, 0)
	if bmp == 0 {
		return 0, e.engineErr("FPDFBitmap_CreateEx")
	}
	return e.intern(bmp), nil
}

func (e *NativeEngine) FillBitmap(bmp Handle, left, top, width, height int, color uint32) error {
	ptr, err := e.resolve(bmp)
	if err != nil {
		return err
	}
	e.bitmapFillRect(ptr, int32(left), int32(top), int32(width), int32(height), color)
	return nil
}

func (e *NativeEngine) BitmapStride(bmp Handle) (int, error) {
	ptr, err := e.resolve(bmp)
	if err != nil {
		return 0, err
	}
	return int(e.bitmapGetStride(ptr)), nil
}

func (e *NativeEngine) BitmapBuffer(bmp Handle) ([]byte, error) {
	ptr, err := e.resolve(bmp)
	if err != nil {
		return nil, err
	}
	buf := e.bitmapGetBuffer(ptr)
	if buf == 0 {
		return nil, e.engineErr("FPDFBitmap_GetBuffer")
	}
	size := int(e.bitmapGetStride(ptr)) * int(e.bitmapGetHeight(ptr))
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(buf)), size))
	return out, nil
}

func (e *NativeEngine) DestroyBitmap(bmp Handle) error {
	ptr, err := e.drop(bmp)
	if err != nil {
		return err
	}
	e.bitmapDestroy(ptr)
	return nil
}

func (e *NativeEngine) RenderPage(bmp, page Handle, x, y, width, height, rotation, flags int) error {
	bmpPtr, err := e.resolve(bmp)
	if err != nil {
		return err
	}
	pagePtr, err := e.resolve(page)
	if err != nil {
		return err
	}
	e.renderPageBitmap(bmpPtr, pagePtr,
		int32(x), int32(y), int32(width), int32(height), int32(rotation), int32(flags))
	return nil
}

// Progressive rendering with a real pause callback: each slice runs until
// the configured budget elapses, then the callback asks the engine to
// yield.

func (e *NativeEngine) StartProgressive(bmp, page Handle, x, y, width, height, rotation, flags int) (Handle, RenderStatus, error) {
	bmpPtr, err := e.resolve(bmp)
	if err != nil {
		return 0, RenderFailed, err
	}
	pagePtr, err := e.resolve(page)
	if err != nil {
		return 0, RenderFailed, err
	}

	pause := &pauseInfo{version: 1, needToPauseNow: pauseCallback()}

	e.armSlice()
	status := e.renderPageStart(bmpPtr, pagePtr,
		int32(x), int32(y), int32(width), int32(height), int32(rotation), int32(flags),
		unsafe.Pointer(pause))
	e.disarmSlice()

	op := e.intern(0)
	e.mu.Lock()
	e.ops[op] = &nativeProgressive{page: pagePtr, pause: pause}
	e.mu.Unlock()

	return op, RenderStatus(status), nil
}

func (e *NativeEngine) ContinueProgressive(op Handle) (RenderStatus, error) {
	e.mu.Lock()
	p, ok := e.ops[op]
	e.mu.Unlock()
	if !ok {
		return RenderFailed, fmt.Errorf("unknown progressive render %d", op)
	}

	e.armSlice()
	status := e.renderPageContinue(p.page, unsafe.Pointer(p.pause))
	e.disarmSlice()

	return RenderStatus(status), nil
}

func (e *NativeEngine) CloseProgressive(op Handle) error {
	e.mu.Lock()
	p, ok := e.ops[op]
	delete(e.ops, op)
	delete(e.handles, op)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown progressive render %d", op)
	}
	e.renderPageClose(p.page)
	return nil
}

func (e *NativeEngine) armSlice() {
	e.sliceDeadline = time.Now().Add(e.sliceBudget)
	activeNativeMu.Lock()
	activeNative = e
	activeNativeMu.Unlock()
}

func (e *NativeEngine) disarmSlice() {
	activeNativeMu.Lock()
	activeNative = nil
	activeNativeMu.Unlock()
}

func (e *NativeEngine) LastError() uint32 {
	return e.getLastError()
}

// Close destroys the PDFium library. Documents must already be closed.
func (e *NativeEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	open := len(e.pins)
	e.pins = map[Handle][]byte{}
	e.handles = map[Handle]uintptr{}
	e.mu.Unlock()
	if open > 0 {
		Logger().Warn("documents still open at engine close", zap.Int("count", open))
	}

	e.destroyLibrary()
	return nil
}

var _ Engine = (*NativeEngine)(nil)
