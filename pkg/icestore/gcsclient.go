package icestore

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// --- Storage abstraction ---

// GCSClient is the part of *storage.Client the uploader needs.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle is the part of *storage.BucketHandle the uploader needs.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle opens a writer for one archive object.
type GCSObjectHandle interface {
	NewWriter(ctx context.Context, attrs ObjectAttrs) GCSWriter
}

// ObjectAttrs are the metadata set on a new archive object.
type ObjectAttrs struct {
	ContentType     string
	ContentEncoding string
}

// GCSWriter finalises the object on Close.
type GCSWriter interface {
	io.WriteCloser
}

// --- Cloud Storage adapters ---

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter wraps a *storage.Client; a nil client yields nil.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectAdapter{handle: a.handle.Object(name)}
}

type gcsObjectAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectAdapter) NewWriter(ctx context.Context, attrs ObjectAttrs) GCSWriter {
	w := a.handle.NewWriter(ctx)
	w.ContentType = attrs.ContentType
	w.ContentEncoding = attrs.ContentEncoding
	return w
}
