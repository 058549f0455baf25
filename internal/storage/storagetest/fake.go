// Package storagetest provides an in-memory ObjectStorage implementation for
// tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/logbus-io/logbus-operator/internal/storage"
)

// FakeObjectStorage is an in-memory implementation of storage.ObjectStorage.
// The zero value is usable. All methods are safe for concurrent use.
type FakeObjectStorage struct {
	mu sync.Mutex

	// UploadErr, DeleteErr, ListErr, HeadErr, DownloadErr force the matching
	// calls to fail when non-nil.
	UploadErr   error
	DeleteErr   error
	ListErr     error
	HeadErr     error
	DownloadErr error

	objects map[string][]byte
	uploads []string
	deletes []string
}

var _ storage.ObjectStorage = (*FakeObjectStorage)(nil)

// NewFakeObjectStorage returns an empty store.
func NewFakeObjectStorage() *FakeObjectStorage {
	return &FakeObjectStorage{objects: map[string][]byte{}}
}

// Put seeds an object without counting it as an upload.
func (f *FakeObjectStorage) Put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = append([]byte(nil), data...)
}

// Object returns a stored object's bytes.
func (f *FakeObjectStorage) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

// Keys returns all stored object keys, sorted.
func (f *FakeObjectStorage) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Uploads returns the keys passed to Upload, in call order.
func (f *FakeObjectStorage) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.uploads))
	copy(out, f.uploads)
	return out
}

// Deletes returns the keys passed to Delete, in call order.
func (f *FakeObjectStorage) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletes))
	copy(out, f.deletes)
	return out
}

// Upload implements storage.ObjectStorage. The body is always drained so
// callers hashing through a TeeReader observe every byte.
func (f *FakeObjectStorage) Upload(_ context.Context, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadErr != nil {
		return f.UploadErr
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	f.uploads = append(f.uploads, key)
	return nil
}

// Delete implements storage.ObjectStorage.
func (f *FakeObjectStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.objects, key)
	f.deletes = append(f.deletes, key)
	return nil
}

// DeletePrefix implements storage.ObjectStorage.
func (f *FakeObjectStorage) DeletePrefix(_ context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			delete(f.objects, key)
			f.deletes = append(f.deletes, key)
		}
	}
	return nil
}

// List implements storage.ObjectStorage.
func (f *FakeObjectStorage) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var result []storage.ObjectInfo
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			result = append(result, storage.ObjectInfo{
				Key:          key,
				Size:         int64(len(data)),
				LastModified: time.Now(),
			})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// Head implements storage.ObjectStorage.
func (f *FakeObjectStorage) Head(_ context.Context, key string) (*storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HeadErr != nil {
		return nil, f.HeadErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, nil
	}
	return &storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

// Download implements storage.ObjectStorage.
func (f *FakeObjectStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DownloadErr != nil {
		return nil, f.DownloadErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
