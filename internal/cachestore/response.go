package cachestore

import (
	"maps"
	"net/http"
	"net/url"
	"slices"
	"time"
)

// Response is a stored or synthesised HTTP response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Clone returns a deep copy so stored entries are never aliased by callers.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     slices.Clone(r.Body),
		StoredAt: r.StoredAt,
	}
}

// Size approximates the stored footprint: body plus header names and values.
func (r *Response) Size() int64 {
	if r == nil {
		return 0
	}
	n := int64(len(r.Body))
	for _, k := range slices.Sorted(maps.Keys(r.Header)) {
		for _, v := range r.Header[k] {
			n += int64(len(k) + len(v))
		}
	}
	return n
}

// ContentType returns the Content-Type header value.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// RequestKey builds the partition key for a request. Only GET is cached, but the
// method is kept in the key so the format is unambiguous.
func RequestKey(method string, u *url.URL) string {
	return method + " " + u.String()
}
