package source

import (
	"bytes"
	"context"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// SizeUnknown marks a payload whose length the origin did not declare.
const SizeUnknown int64 = -1

// Payload is the fetched source: a live byte stream plus whatever metadata
// the origin declared. It is consumed exactly once; the consumer owns Body
// and must close it.
type Payload struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Fetcher retrieves source bytes by key. Implementations map their origin's
// failure signals onto fault kinds and never retry internally.
type Fetcher interface {
	Fetch(ctx context.Context, key string) (*Payload, error)
}

// SniffContentType fills in ContentType by sniffing the first bytes of the
// stream when the origin declared none. The consumed prefix is stitched back
// in front of Body, so the payload still reads from the start.
func (p *Payload) SniffContentType() string {
	if p.ContentType != "" {
		return p.ContentType
	}

	prefix := make([]byte, 3072)
	n, _ := io.ReadFull(p.Body, prefix)
	prefix = prefix[:n]

	p.Body = &prefixedReadCloser{
		reader: io.MultiReader(bytes.NewReader(prefix), p.Body),
		closer: p.Body,
	}
	p.ContentType = mimetype.Detect(prefix).String()
	return p.ContentType
}

type prefixedReadCloser struct {
	reader io.Reader
	closer io.Closer
}

func (r *prefixedReadCloser) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

func (r *prefixedReadCloser) Close() error {
	return r.closer.Close()
}
