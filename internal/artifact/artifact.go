// Package artifact describes files produced by a run: size, modification
// time, MIME type, a coarse category, and for small text files the content.
package artifact

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"
)

// Category is a coarse classification of an artifact.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryText     Category = "text"
	CategoryDocument Category = "document"
	CategoryUnknown  Category = "unknown"
)

// Metadata describes one artifact. When the file cannot be stat'ed only
// Path, Name and Error are set.
type Metadata struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
	MIMEType     string    `json:"mimeType,omitempty"`
	Category     Category  `json:"category,omitempty"`
	Content      *string   `json:"content,omitempty"`
	Base64       string    `json:"base64,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Extractor builds Metadata for artifact paths.
type Extractor struct {
	PreviewLimit    int64 // text files strictly smaller than this carry Content
	IncludeContents bool
	IncludeImages   bool // inline images below ImageLimit as base64
	ImageLimit      int64
	Workers         int // concurrent Describe calls in Extract; <=1 runs inline
}

// Describe stats path and classifies it. It never fails; problems are
// recorded in Metadata.Error or, for content reads, by omitting Content.
func (e *Extractor) Describe(path string) Metadata {
	m := Metadata{Path: path, Name: filepath.Base(path)}

	info, err := os.Stat(path)
	if err != nil {
		m.Error = fmt.Sprintf("could not read file info: %v", err)
		return m
	}
	m.Size = info.Size()
	m.ModifiedTime = info.ModTime()
	m.MIMEType, m.Category = Classify(path)

	if e.IncludeContents && m.Category == CategoryText && m.Size < e.PreviewLimit {
		if data, err := os.ReadFile(path); err == nil && utf8.Valid(data) {
			s := string(data)
			m.Content = &s
		}
	}
	if e.IncludeImages && m.Category == CategoryImage && m.Size < e.ImageLimit {
		if data, err := os.ReadFile(path); err == nil {
			m.Base64 = base64.StdEncoding.EncodeToString(data)
		}
	}
	return m
}

// Extract describes paths concurrently and returns results in input order.
// Paths not yet started when ctx is done get an error record.
func (e *Extractor) Extract(ctx context.Context, paths []string) []Metadata {
	out := make([]Metadata, len(paths))
	if len(paths) == 0 {
		return out
	}

	var pool *ants.Pool
	if e.Workers > 1 && len(paths) > 1 {
		p, err := ants.NewPool(e.Workers)
		if err == nil {
			pool = p
			defer pool.Release()
		}
	}

	var wg sync.WaitGroup
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			out[i] = Metadata{Path: path, Name: filepath.Base(path), Error: err.Error()}
			continue
		}
		if pool == nil {
			out[i] = e.Describe(path)
			continue
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			out[i] = e.Describe(path)
		})
		if err != nil {
			wg.Done()
			out[i] = e.Describe(path)
		}
	}
	wg.Wait()
	return out
}
