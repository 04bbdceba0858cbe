// Package archive assembles fetched attachments into a zip container,
// streaming entries so peak memory stays bounded by one attachment.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vishnu0414/email-attachment-download/internal/utils"
)

// Builder writes zip entries incrementally to the underlying stream.
// Filename collisions resolve deterministically: the first occurrence
// keeps its name, later ones get a numeric suffix in arrival order.
type Builder struct {
	mu    sync.Mutex
	zw    *zip.Writer
	seen  map[string]int
	count int
}

func NewBuilder(w io.Writer) *Builder {
	return &Builder{
		zw:   zip.NewWriter(w),
		seen: make(map[string]int),
	}
}

// Add writes one entry under a collision-resolved display name.
func (b *Builder) Add(name string, r io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, err := b.zw.Create(b.resolveName(name))
	if err != nil {
		return fmt.Errorf("create zip entry: %w", err)
	}
	if _, err := io.Copy(entry, r); err != nil {
		return fmt.Errorf("write zip entry: %w", err)
	}
	b.count++
	return nil
}

// AddBytes is a convenience wrapper for in-memory payloads.
func (b *Builder) AddBytes(name string, data []byte) error {
	return b.Add(name, bytes.NewReader(data))
}

// Count returns the number of entries written so far.
func (b *Builder) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Close flushes the central directory. The archive is unreadable until
// Close returns.
func (b *Builder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.zw.Close()
}

// resolveName sanitizes the declared filename and disambiguates repeats:
// report.pdf, report (1).pdf, report (2).pdf, in arrival order.
func (b *Builder) resolveName(name string) string {
	safe := utils.SanitizeFilename(name)
	n := b.seen[safe]
	b.seen[safe] = n + 1
	if n == 0 {
		return safe
	}
	ext := filepath.Ext(safe)
	base := strings.TrimSuffix(safe, ext)
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}
