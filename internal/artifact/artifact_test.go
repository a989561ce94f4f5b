package artifact

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExtractor() *Extractor {
	return &Extractor{
		PreviewLimit:    10000,
		IncludeContents: true,
		ImageLimit:      5 << 20,
		Workers:         4,
	}
}

func write(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// Minimal PNG header; enough for both the extension table and the sniffer.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestDescribe_SmallTextHasContent(t *testing.T) {
	body := strings.Repeat("a,b,c\n", 5000/6)
	p := write(t, t.TempDir(), "results.csv", []byte(body))

	m := newExtractor().Describe(p)
	assert.Empty(t, m.Error)
	assert.Equal(t, "results.csv", m.Name)
	assert.Equal(t, int64(len(body)), m.Size)
	assert.Equal(t, CategoryText, m.Category)
	assert.Equal(t, "text/csv", m.MIMEType)
	require.NotNil(t, m.Content)
	assert.Equal(t, body, *m.Content)
}

func TestDescribe_LargeTextOmitsContent(t *testing.T) {
	body := strings.Repeat("x", 50000)
	p := write(t, t.TempDir(), "big.txt", []byte(body))

	m := newExtractor().Describe(p)
	assert.Equal(t, int64(50000), m.Size)
	assert.Equal(t, CategoryText, m.Category)
	assert.Nil(t, m.Content)
}

func TestDescribe_PreviewLimitIsStrict(t *testing.T) {
	p := write(t, t.TempDir(), "edge.txt", []byte(strings.Repeat("y", 10000)))
	assert.Nil(t, newExtractor().Describe(p).Content)
}

func TestDescribe_InvalidUTF8OmitsContent(t *testing.T) {
	p := write(t, t.TempDir(), "latin1.txt", []byte{'c', 'a', 'f', 0xe9})
	m := newExtractor().Describe(p)
	assert.Equal(t, CategoryText, m.Category)
	assert.Nil(t, m.Content)
}

func TestDescribe_EmptyTextFile(t *testing.T) {
	p := write(t, t.TempDir(), "empty.txt", nil)
	m := newExtractor().Describe(p)
	require.NotNil(t, m.Content)
	assert.Equal(t, "", *m.Content)
}

func TestDescribe_ContentsDisabled(t *testing.T) {
	p := write(t, t.TempDir(), "note.txt", []byte("hello"))
	e := newExtractor()
	e.IncludeContents = false
	assert.Nil(t, e.Describe(p).Content)
}

func TestDescribe_Categories(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		data []byte
		mime string
		cat  Category
	}{
		{"plot.png", pngHeader, "image/png", CategoryImage},
		{"report.pdf", []byte("%PDF-1.4\n"), "application/pdf", CategoryDocument},
		{"data.json", []byte(`{"a":1}`), "application/json", CategoryText},
		{"config.yml", []byte("a: 1\n"), "application/yaml", CategoryText},
		{"blob.bin-unknown", []byte{0x00, 0x01, 0x02, 0xff, 0xfe}, "", CategoryUnknown},
		{"README", []byte("plain words\n"), "text/plain", CategoryText},
		{"image-noext", pngHeader, "image/png", CategoryImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := write(t, dir, tt.name, tt.data)
			m := newExtractor().Describe(p)
			assert.Equal(t, tt.cat, m.Category)
			assert.Equal(t, tt.mime, m.MIMEType)
		})
	}
}

func TestDescribe_ImagesInlinedWhenEnabled(t *testing.T) {
	p := write(t, t.TempDir(), "plot.png", pngHeader)

	e := newExtractor()
	assert.Empty(t, e.Describe(p).Base64, "images are not inlined by default")

	e.IncludeImages = true
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngHeader), e.Describe(p).Base64)

	e.ImageLimit = int64(len(pngHeader))
	assert.Empty(t, e.Describe(p).Base64, "image at the limit is not inlined")
}

func TestDescribe_StatError(t *testing.T) {
	p := filepath.Join(t.TempDir(), "vanished.txt")
	m := newExtractor().Describe(p)
	assert.Equal(t, p, m.Path)
	assert.Equal(t, "vanished.txt", m.Name)
	assert.Contains(t, m.Error, "could not read file info")
	assert.Zero(t, m.Size)
	assert.Empty(t, m.Category)
}

func TestDescribe_Idempotent(t *testing.T) {
	p := write(t, t.TempDir(), "out.txt", []byte("same\n"))
	e := newExtractor()
	assert.Equal(t, e.Describe(p), e.Describe(p))
}

func TestExtract_PreservesOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"c.txt", "a.txt", "missing.txt", "b.png"} {
		if name == "missing.txt" {
			paths = append(paths, filepath.Join(dir, name))
			continue
		}
		paths = append(paths, write(t, dir, name, []byte(name)))
	}

	got := newExtractor().Extract(context.Background(), paths)
	require.Len(t, got, len(paths))
	for i, m := range got {
		assert.Equal(t, paths[i], m.Path)
	}
	assert.NotEmpty(t, got[2].Error)
	assert.Empty(t, got[0].Error)
}

func TestExtract_Sequential(t *testing.T) {
	dir := t.TempDir()
	paths := []string{write(t, dir, "one.txt", []byte("1")), write(t, dir, "two.txt", []byte("2"))}

	e := newExtractor()
	e.Workers = 1
	got := e.Extract(context.Background(), paths)
	require.Len(t, got, 2)
	assert.Equal(t, "1", *got[0].Content)
	assert.Equal(t, "2", *got[1].Content)
}

func TestExtract_CancelledContext(t *testing.T) {
	p := write(t, t.TempDir(), "x.txt", []byte("x"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := newExtractor().Extract(ctx, []string{p})
	require.Len(t, got, 1)
	assert.Equal(t, context.Canceled.Error(), got[0].Error)
}

func TestExtract_Empty(t *testing.T) {
	assert.Empty(t, newExtractor().Extract(context.Background(), nil))
}
