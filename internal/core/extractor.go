package core

import (
	"context"
)

// DocumentExtractor turns an uploaded document into plain text. An empty
// result is returned as an error so callers never index nothing.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, data []byte, contentType string) (string, error)
}
