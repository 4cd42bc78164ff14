// Package proto defines the shared value types of the search subsystem and
// the message schema exchanged with background search workers.
//
// Every message crossing the execution bridge is an Envelope. The Kind field
// selects which payload pointer is populated; all other payloads are nil.
// The same schema is used for in-process workers (channel pipe) and for
// remote workers reached over pkg/rpc.
package proto

// ---------- Corpus ----------

// Kind classifies a document. The string values are part of the wire format.
type Kind string

const (
	KindTitle     Kind = "titulo"
	KindSection   Kind = "seccion"
	KindParagraph Kind = "parrafo"
)

// Rank orders kinds for result sorting: titles, then sections, then paragraphs.
func (k Kind) Rank() int {
	switch k {
	case KindTitle:
		return 0
	case KindSection:
		return 1
	case KindParagraph:
		return 2
	default:
		return 3
	}
}

// Document is one searchable unit of a work. IDs are stable across rebuilds.
type Document struct {
	ID         string `json:"id"`
	Title      string `json:"titulo"`
	Author     string `json:"autor"`
	WorkSlug   string `json:"obraSlug"`
	AuthorSlug string `json:"autorSlug"`
	Section    string `json:"seccion,omitempty"`
	Text       string `json:"texto"`
	Number     int    `json:"numero,omitempty"`
	Kind       Kind   `json:"tipo"`
}

// SearchResult is a matched document plus its snippet and engine score.
// Score is only comparable within a single search call.
type SearchResult struct {
	Document
	Fragment string  `json:"fragmento"`
	Score    float64 `json:"score"`
}

// SearchResponse is the output of a search. Total counts post-filtered hits
// before the limit is applied.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// EmptyResponse returns a response with no hits for query.
func EmptyResponse(query string) *SearchResponse {
	return &SearchResponse{Query: query, Results: []SearchResult{}}
}

// ---------- Bridge ----------

// MessageKind tags an Envelope.
type MessageKind string

const (
	MsgPing       MessageKind = "ping"
	MsgPong       MessageKind = "pong"
	MsgBuildIndex MessageKind = "build_index"
	MsgSearch     MessageKind = "search"
	MsgLoadChunk  MessageKind = "load_chunk"
	MsgClearIndex MessageKind = "clear_index"
	MsgAck        MessageKind = "ack"
	MsgResult     MessageKind = "result"
	MsgError      MessageKind = "error"
	// MsgFatal carries no correlation id; it reports that the worker can no
	// longer serve any request.
	MsgFatal MessageKind = "fatal"
)

// Envelope is the only message type exchanged with a worker.
type Envelope struct {
	ID     string          `json:"id,omitempty"`
	Kind   MessageKind     `json:"kind"`
	Docs   *DocumentsBody  `json:"docs,omitempty"`
	Search *SearchBody     `json:"search,omitempty"`
	Result *SearchResponse `json:"result,omitempty"`
	Ack    *AckBody        `json:"ack,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// DocumentsBody is the payload of build_index and load_chunk.
type DocumentsBody struct {
	Documents []Document `json:"documents"`
}

// SearchBody is the payload of search.
type SearchBody struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// AckBody confirms an index mutation.
type AckBody struct {
	Indexed int `json:"indexed"`
}
