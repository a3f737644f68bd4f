// Package storage archives document revision histories to object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/pkg/logger"
	"go.uber.org/zap"
)

// ObjectStore is the subset of MinIOStorage the exporter needs.
type ObjectStore interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
}

// VersionLister lists every revision of a document, oldest first.
type VersionLister interface {
	ListVersions(ctx context.Context, user service.Principal, uid string) ([]*service.Document, error)
}

// Export is the object written for one document.
type Export struct {
	Collection string              `json:"collection"`
	UID        string              `json:"uid"`
	ExportedAt time.Time           `json:"exported_at"`
	Versions   []*service.Document `json:"versions"`
}

// HistoryExporter writes a document's full revision history as one JSON object.
type HistoryExporter struct {
	objects ObjectStore
	now     func() time.Time
}

func NewHistoryExporter(objects ObjectStore) *HistoryExporter {
	return &HistoryExporter{objects: objects, now: time.Now}
}

// Key is the object name used for an export taken at t.
func Key(collection, uid string, t time.Time) string {
	return fmt.Sprintf("history/%s/%s/%s.json", collection, uid, t.UTC().Format("20060102T150405Z"))
}

// Export uploads every revision of uid and returns the object key.
func (e *HistoryExporter) Export(ctx context.Context, user service.Principal, collection string, docs VersionLister, uid string) (string, error) {
	versions, err := docs.ListVersions(ctx, user, uid)
	if err != nil {
		return "", err
	}
	exp := Export{Collection: collection, UID: uid, ExportedAt: e.now().UTC(), Versions: versions}
	b, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}
	key := Key(collection, uid, exp.ExportedAt)
	if err := e.objects.UploadFile(ctx, key, bytes.NewReader(b), int64(len(b)), "application/json"); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	logger.L().Info("history exported",
		zap.String("collection", collection),
		zap.String("uid", uid),
		zap.Int("versions", len(versions)),
		zap.String("key", key))
	return key, nil
}
