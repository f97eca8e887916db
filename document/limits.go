package document

// Limits bounds the engine work this layer will ask for. Checks run before
// the engine call, never after, so an oversized request costs nothing.
type Limits struct {
	// MaxDocumentBytes caps the size of a document passed to Open.
	MaxDocumentBytes int

	// MaxRenderDimension caps the width and height, in pixels, of any
	// render target (one-shot or progressive).
	MaxRenderDimension int

	// MaxTextChars caps the character count of a single text extraction.
	MaxTextChars int
}

// DefaultLimits returns the limits applied when Open is not given any.
func DefaultLimits() Limits {
	return Limits{
		MaxDocumentBytes:   256 << 20, // 256 MiB
		MaxRenderDimension: 16384,
		MaxTextChars:       4 << 20,
	}
}
