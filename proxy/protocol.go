package proxy

import "encoding/json"

// Message is the single wire unit both directions. Requests use the
// operation name as the type; replies use one of the reply types and echo
// the request ID they answer.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply and control message types. Everything else is an operation name.
const (
	TypeSuccess  = "success"
	TypeError    = "error"
	TypeProgress = "progress"
	TypeCancel   = "cancel"
	TypeDestroy  = "destroy"
)

// Operation names the worker understands.
const (
	OpOpenDocument  = "open_document"
	OpCloseDocument = "close_document"
	OpPageCount     = "page_count"
	OpMetadata      = "metadata"
	OpLoadPage      = "load_page"
	OpClosePage     = "close_page"
	OpPageSize      = "page_size"
	OpPageText      = "page_text"
	OpRenderPage    = "render_page"
)

// renderClass reports whether op gets the extended render timeout.
func renderClass(op string) bool {
	return op == OpRenderPage
}

// ErrorPayload carries a worker-reported failure. The code must be one of
// the stable codes; the client maps anything else to a transport failure
// rather than trusting it.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ProgressPayload reports partial completion in [0,1]. It never completes
// the call it belongs to.
type ProgressPayload struct {
	Value float64 `json:"value"`
}

// OpenDocumentRequest opens a document from raw bytes.
type OpenDocumentRequest struct {
	Data     []byte `json:"data"`
	Password string `json:"password,omitempty"`
}

// OpenDocumentResponse returns the wire ID of the opened document.
type OpenDocumentResponse struct {
	Doc uint32 `json:"doc"`
}

// DocumentRequest addresses an open document by wire ID.
type DocumentRequest struct {
	Doc uint32 `json:"doc"`
}

// PageCountResponse carries the page count.
type PageCountResponse struct {
	Count int `json:"count"`
}

// MetadataResponse carries the info dictionary's common entries.
type MetadataResponse struct {
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	Subject      string `json:"subject,omitempty"`
	Keywords     string `json:"keywords,omitempty"`
	Creator      string `json:"creator,omitempty"`
	Producer     string `json:"producer,omitempty"`
	CreationDate string `json:"creation_date,omitempty"`
	ModDate      string `json:"mod_date,omitempty"`
}

// LoadPageRequest loads one page of an open document.
type LoadPageRequest struct {
	Doc   uint32 `json:"doc"`
	Index int    `json:"index"`
}

// LoadPageResponse returns the wire ID of the loaded page.
type LoadPageResponse struct {
	Page uint32 `json:"page"`
}

// PageRequest addresses a loaded page by wire ID.
type PageRequest struct {
	Page uint32 `json:"page"`
}

// PageSizeResponse carries the page dimensions in points.
type PageSizeResponse struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PageTextResponse carries the extracted page text.
type PageTextResponse struct {
	Text string `json:"text"`
}

// RenderPageRequest renders a loaded page. Width/Height take precedence
// over Scale, mirroring the document layer's render options.
type RenderPageRequest struct {
	Page   uint32  `json:"page"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	Scale  float64 `json:"scale,omitempty"`
}

// RenderPageResponse carries the rendered RGBA pixels.
type RenderPageResponse struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pixels []byte `json:"pixels"`
}
