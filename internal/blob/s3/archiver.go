package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

const evidencePrefix = "evidence/"

// EvidenceKey is the object key of an archived bundle:
//
//	evidence/<request id>/<digest>.json
func EvidenceKey(id domain.RequestID, digest string) string {
	return evidencePrefix + id.String() + "/" + strings.TrimPrefix(strings.ToLower(digest), "0x") + ".json"
}

// Archiver implements domain.EvidenceArchive. Bundles are written as
// indented JSON; keys are content-addressed, so rewriting the same bundle
// is harmless.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewArchiver creates an Archiver. reader may be nil, in which case
// existing objects are always overwritten and Load is unavailable.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader) *Archiver {
	return &Archiver{writer: writer, reader: reader}
}

// Archive stores bundle and returns its key.
func (a *Archiver) Archive(ctx context.Context, id domain.RequestID, digest string, bundle domain.EvidenceBundle) (string, error) {
	key := EvidenceKey(id, digest)

	if a.reader != nil {
		if ok, err := a.reader.Exists(ctx, key); err == nil && ok {
			return key, nil
		}
	}

	data, err := bundle.MarshalIndent()
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal bundle %s: %w", id, err)
	}
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive bundle %s: %w", id, err)
	}
	return key, nil
}

// Load reads back the bundle stored at key.
func (a *Archiver) Load(ctx context.Context, key string) (domain.EvidenceBundle, error) {
	if a.reader == nil {
		return domain.EvidenceBundle{}, fmt.Errorf("s3blob: load %s: %w", key, domain.ErrMissingConfig)
	}
	body, err := a.reader.Get(ctx, key)
	if err != nil {
		return domain.EvidenceBundle{}, err
	}
	defer body.Close()

	var bundle domain.EvidenceBundle
	if err := json.NewDecoder(body).Decode(&bundle); err != nil {
		return domain.EvidenceBundle{}, fmt.Errorf("s3blob: decode bundle %s: %w", key, err)
	}
	return bundle, nil
}

var _ domain.EvidenceArchive = (*Archiver)(nil)
