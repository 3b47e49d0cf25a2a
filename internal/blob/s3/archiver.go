package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	rawEventPrefix   = "raw-events"
)

// Archiver uploads batches of raw events as JSONL objects partitioned by day:
// raw-events/<yyyy>/<mm>/<dd>/<unix-nanos>.jsonl. Batches larger than
// MinPartSize go through a multipart upload.
type Archiver struct {
	writer domain.BlobWriter
	now    func() time.Time
}

func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer, now: time.Now}
}

// Name identifies the sink in logs and metrics.
func (a *Archiver) Name() string { return "s3" }

// Write uploads events as one object. An empty batch writes nothing.
func (a *Archiver) Write(ctx context.Context, events []domain.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	lines := make([]domain.AuditLine, len(events))
	for i, ev := range events {
		lines[i] = domain.AuditLine{Context: ev.Address, Logs: ev}
	}
	buf, err := marshalJSONL(lines)
	if err != nil {
		return fmt.Errorf("s3blob: archive raw events: %w", err)
	}

	path := archivePath(a.now().UTC())
	if int64(len(buf)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive raw events: %w", err)
	}
	return nil
}

func archivePath(at time.Time) string {
	return fmt.Sprintf("%s/%s/%d.jsonl", rawEventPrefix, at.Format("2006/01/02"), at.UnixNano())
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
