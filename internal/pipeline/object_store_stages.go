package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/nanoimg/internal/domain"
	"github.com/dunamismax/nanoimg/internal/nano"
)

const SourceTypeS3Presigned = domain.SourceTypeS3Presigned

type ObjectStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage ObjectStorage
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(req.SourceType, SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStorage
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, optimized nano.Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := OutputObjectKey(e.OutputPrefix, req.JobID)
	if err := e.Storage.WriteObject(ctx, objectKey, optimized.Data, outputContentType); err != nil {
		return Output{}, err
	}
	return outputFor(objectKey, optimized), nil
}

// OutputObjectKey is where the optimized image of a job lands in the bucket.
func OutputObjectKey(prefix, jobID string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "outputs"
	}
	return path.Join(prefix, sanitizePathToken(jobID), outputFilename)
}

// SourceObjectKey is where clients upload the source image of a job.
func SourceObjectKey(jobID string) string {
	return path.Join("uploads", sanitizePathToken(jobID), "source")
}
