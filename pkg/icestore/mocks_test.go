package icestore_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/illmade-knight/go-railfeed/pkg/icestore"
	"github.com/stretchr/testify/require"
)

// --- In-memory GCS ---

type mockWriter struct {
	bucket *mockBucket
	name   string
	attrs  icestore.ObjectAttrs
	buf    bytes.Buffer
	fail   bool
}

func (w *mockWriter) Write(p []byte) (int, error) {
	if w.fail {
		return 0, errors.New("write refused")
	}
	return w.buf.Write(p)
}

func (w *mockWriter) Close() error {
	if w.fail {
		return errors.New("close refused")
	}
	w.bucket.mu.Lock()
	defer w.bucket.mu.Unlock()
	w.bucket.objects[w.name] = storedObject{attrs: w.attrs, data: w.buf.Bytes()}
	return nil
}

type mockObject struct {
	bucket *mockBucket
	name   string
}

func (o *mockObject) NewWriter(_ context.Context, attrs icestore.ObjectAttrs) icestore.GCSWriter {
	o.bucket.mu.Lock()
	fail := o.bucket.failWrites
	o.bucket.mu.Unlock()
	return &mockWriter{bucket: o.bucket, name: o.name, attrs: attrs, fail: fail}
}

type storedObject struct {
	attrs icestore.ObjectAttrs
	data  []byte
}

type mockBucket struct {
	mu         sync.Mutex
	objects    map[string]storedObject
	failWrites bool
}

func (b *mockBucket) Object(name string) icestore.GCSObjectHandle {
	return &mockObject{bucket: b, name: name}
}

func (b *mockBucket) snapshot() map[string]storedObject {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]storedObject, len(b.objects))
	for k, v := range b.objects {
		out[k] = v
	}
	return out
}

type mockGCSClient struct {
	bucket *mockBucket
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{bucket: &mockBucket{objects: make(map[string]storedObject)}}
}

func (c *mockGCSClient) Bucket(_ string) icestore.GCSBucketHandle { return c.bucket }

// readArchive gunzips an object and decodes its JSON lines.
func readArchive(t *testing.T, data []byte) []icestore.ArchivalData {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	content, err := io.ReadAll(gz)
	require.NoError(t, err)

	var out []icestore.ArchivalData
	dec := json.NewDecoder(bytes.NewReader(content))
	for dec.More() {
		var rec icestore.ArchivalData
		require.NoError(t, dec.Decode(&rec))
		out = append(out, rec)
	}
	return out
}

// --- Recording uploader ---

type recordingUploader struct {
	mu      sync.Mutex
	batches [][]*icestore.ArchivalData
	err     error
	closed  bool
}

func (u *recordingUploader) UploadBatch(_ context.Context, items []*icestore.ArchivalData) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.batches = append(u.batches, items)
	return u.err
}

func (u *recordingUploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

func (u *recordingUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, b := range u.batches {
		n += len(b)
	}
	return n
}
