package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

type upload struct {
	path        string
	body        []byte
	contentType string
	multipart   bool
}

type fakeWriter struct {
	uploads []upload
	err     error
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	body, _ := io.ReadAll(data)
	f.uploads = append(f.uploads, upload{path: path, body: body, contentType: contentType})
	return f.err
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, partSize int64) error {
	body, _ := io.ReadAll(data)
	f.uploads = append(f.uploads, upload{path: path, body: body, multipart: true})
	return f.err
}

func fixedArchiver(w domain.BlobWriter) *Archiver {
	a := NewArchiver(w)
	a.now = func() time.Time { return time.Date(2024, 3, 7, 12, 0, 0, 5, time.UTC) }
	return a
}

func TestArchiver_WritesJSONL(t *testing.T) {
	w := &fakeWriter{}
	a := fixedArchiver(w)

	events := []domain.RawEvent{
		{Address: "AddrA", Signature: "sig-1", Slot: 10, Logs: []string{"Program log: <ok>"}},
		{Address: "AddrB", Signature: "sig-2", Slot: 11},
	}
	require.NoError(t, a.Write(context.Background(), events))
	require.Len(t, w.uploads, 1)

	up := w.uploads[0]
	assert.Equal(t, "raw-events/2024/03/07/1709812800000000005.jsonl", up.path)
	assert.Equal(t, "application/x-ndjson", up.contentType)
	assert.False(t, up.multipart)

	var lines []domain.AuditLine
	sc := bufio.NewScanner(bytes.NewReader(up.body))
	for sc.Scan() {
		var line domain.AuditLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "AddrA", lines[0].Context)
	assert.Equal(t, "sig-1", lines[0].Logs.Signature)
	assert.Equal(t, []string{"Program log: <ok>"}, lines[0].Logs.Logs)
	assert.Contains(t, string(up.body), "<ok>", "html escaping must be off")
}

func TestArchiver_LargeBatchUsesMultipart(t *testing.T) {
	w := &fakeWriter{}
	a := fixedArchiver(w)

	big := strings.Repeat("x", 1024*1024)
	events := make([]domain.RawEvent, 6)
	for i := range events {
		events[i] = domain.RawEvent{Address: "A", Signature: "s", Logs: []string{big}}
	}
	require.NoError(t, a.Write(context.Background(), events))
	require.Len(t, w.uploads, 1)
	assert.True(t, w.uploads[0].multipart)
}

func TestArchiver_EmptyBatchAndErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("denied")}
	a := fixedArchiver(w)

	require.NoError(t, a.Write(context.Background(), nil))
	assert.Empty(t, w.uploads)

	err := a.Write(context.Background(), []domain.RawEvent{{Address: "A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
	assert.Equal(t, "s3", a.Name())
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://r2.example.com", normaliseEndpoint("https://r2.example.com", false))
}
