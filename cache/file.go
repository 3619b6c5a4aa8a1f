package cache

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// headerSize is the width of the expiry header of a cache file.
	headerSize = 20
	// undefinedPayload marks a cached nil.
	undefinedPayload = "UNDEFINED"
)

// FileBackend stores one file per key, named <prefix><key> inside a
// directory. A file starts with a 20-byte header holding the expiry in
// milliseconds, left-justified and space-padded, followed by the JSON payload
// or UNDEFINED.
type FileBackend struct {
	dir    string
	prefix string
}

// NewFileBackend returns a backend storing files in dir.
func NewFileBackend(dir, prefix string) *FileBackend {
	return &FileBackend{dir: dir, prefix: prefix}
}

func (b *FileBackend) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", errors.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(b.dir, b.prefix+key), nil
}

// Load reads the entry of key.
func (b *FileBackend) Load(_ context.Context, key string) (Entry, error) {
	p, err := b.path(key)
	if err != nil {
		return Entry{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, ErrNoCache
	}
	if err != nil {
		return Entry{}, errors.Wrapf(err, "reading cache file %s", p)
	}
	return decodeEntry(data)
}

// Store writes the entry of key. The file is written under a temporary
// name and renamed, so readers never observe a partial entry.
func (b *FileBackend) Store(_ context.Context, key string, entry Entry) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, b.prefix+key+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating cache file")
	}
	if _, err := tmp.Write(encodeEntry(entry)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "writing cache file %s", p)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "closing cache file %s", p)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "renaming cache file %s", p)
	}
	return nil
}

// Remove deletes the file of key. A missing file is not an error.
func (b *FileBackend) Remove(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "removing cache file %s", p)
	}
	return nil
}

// encodeEntry renders an entry in the cache file format.
func encodeEntry(e Entry) []byte {
	header := strconv.FormatInt(e.Expiry, 10)
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteString(strings.Repeat(" ", headerSize-len(header)))
	if e.Payload == nil {
		buf.WriteString(undefinedPayload)
	} else {
		buf.Write(e.Payload)
	}
	return buf.Bytes()
}

// decodeEntry parses the cache file format.
func decodeEntry(data []byte) (Entry, error) {
	if len(data) < headerSize {
		return Entry{}, errors.Errorf("cache entry shorter than its %d-byte header", headerSize)
	}
	expiry, err := strconv.ParseInt(strings.TrimSpace(string(data[:headerSize])), 10, 64)
	if err != nil {
		return Entry{}, errors.Wrap(err, "parsing cache entry header")
	}
	entry := Entry{Expiry: expiry}
	if payload := data[headerSize:]; string(payload) != undefinedPayload {
		entry.Payload = append([]byte(nil), payload...)
	}
	return entry, nil
}
