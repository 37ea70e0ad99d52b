package core

import (
	"context"
)

// ObjectClient defines interactions with S3 or any object storage. The
// bucket is fixed at construction.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
}
