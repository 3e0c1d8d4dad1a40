package message

import (
	"sync/atomic"
	"time"
)

// Kind classifies a record in a conversation log.
type Kind string

// Record kinds.
const (
	KindNotice  Kind = "notice"
	KindAction  Kind = "action"
	KindMessage Kind = "message"
	// KindToggle anchors an asynchronously fetched link preview.
	KindToggle Kind = "toggle"
)

// PreviewType classifies a fetched link preview.
type PreviewType string

// Preview types. PreviewNone marks a payload that has not been classified yet.
const (
	PreviewNone  PreviewType = ""
	PreviewLink  PreviewType = "link"
	PreviewImage PreviewType = "image"
)

// Preview is the payload attached to a toggle anchor once its fetch succeeds.
// ID equals the anchor record id.
type Preview struct {
	ID    int64       `json:"id"`
	Type  PreviewType `json:"type"`
	Head  string      `json:"head"`
	Body  string      `json:"body"`
	Thumb string      `json:"thumb"`
	Link  string      `json:"link"`
}

// Empty reports whether the preview carries nothing worth showing.
func (p Preview) Empty() bool {
	return p.Head == "" && p.Body == "" && p.Thumb == ""
}

// Record is one entry of a conversation log. Records are not modified after
// they are appended, except that a toggle anchor receives its Preview once.
type Record struct {
	ID        int64     `json:"id"`
	Kind      Kind      `json:"type"`
	Time      time.Time `json:"time"`
	From      string    `json:"from"`
	Mode      string    `json:"mode,omitempty"`
	Text      string    `json:"text"`
	Self      bool      `json:"self"`
	Highlight bool      `json:"highlight"`
	Preview   *Preview  `json:"preview,omitempty"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Preview != nil {
		p := *r.Preview
		out.Preview = &p
	}
	return &out
}

// Previewable reports whether the record kind may carry links worth
// prefetching.
func (r *Record) Previewable() bool {
	return r != nil && (r.Kind == KindMessage || r.Kind == KindAction)
}

var lastID atomic.Int64

// NextID returns a process-unique, strictly increasing record id.
func NextID() int64 {
	return lastID.Add(1)
}
