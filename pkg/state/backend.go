package state

import (
	"bytes"

	"github.com/peterbourgon/diskv/v3"
)

// Backend persists whole documents under a key. Write must replace the
// previous value atomically.
type Backend interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Has(key string) bool
	Erase(key string) error
}

// diskvBackend stores each key as a single file directly under a directory.
// Writes go to a temp file in the same directory and are renamed into place.
type diskvBackend struct {
	diskv *diskv.Diskv
}

// NewDiskvBackend returns a flat, uncached diskv backend rooted at dir.
func NewDiskvBackend(dir string) Backend {
	flatTransform := func(s string) []string { return []string{} }
	return &diskvBackend{diskv: diskv.New(diskv.Options{
		BasePath:     dir,
		TempDir:      dir,
		Transform:    flatTransform,
		CacheSizeMax: 0,
	})}
}

func (b *diskvBackend) Read(key string) ([]byte, error) {
	return b.diskv.Read(key)
}

func (b *diskvBackend) Write(key string, data []byte) error {
	return b.diskv.WriteStream(key, bytes.NewReader(data), true)
}

func (b *diskvBackend) Has(key string) bool {
	return b.diskv.Has(key)
}

func (b *diskvBackend) Erase(key string) error {
	return b.diskv.Erase(key)
}
