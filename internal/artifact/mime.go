package artifact

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const sniffLen = 512

// extTypes covers extensions whose MIME type the host tables often lack or
// disagree on. Lookup keys include the leading dot.
var extTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".txt":  "text/plain",
	".log":  "text/plain",
	".md":   "text/markdown",
	".json": "application/json",
	".xml":  "application/xml",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".pdf":  "application/pdf",
}

// textApplicationTypes are application/* types that are safe to inline as text.
var textApplicationTypes = map[string]bool{
	"application/json":   true,
	"application/xml":    true,
	"application/yaml":   true,
	"application/x-yaml": true,
	"application/toml":   true,
}

// Classify returns the MIME type and category for path. The fixed
// extension table wins, then the host MIME tables, then content sniffing.
func Classify(path string) (string, Category) {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := extTypes[ext]; ok {
		return mt, CategoryOf(mt)
	}
	if ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			mt = baseType(mt)
			return mt, CategoryOf(mt)
		}
	}
	if mt := sniff(path); mt != "" {
		return mt, CategoryOf(mt)
	}
	return "", CategoryUnknown
}

// CategoryOf maps a MIME type to a Category.
func CategoryOf(mimeType string) Category {
	mt := baseType(mimeType)
	switch {
	case strings.HasPrefix(mt, "image/"):
		return CategoryImage
	case strings.HasPrefix(mt, "text/"),
		textApplicationTypes[mt],
		strings.HasSuffix(mt, "+json"),
		strings.HasSuffix(mt, "+xml"):
		return CategoryText
	case mt == "application/pdf":
		return CategoryDocument
	default:
		return CategoryUnknown
	}
}

func baseType(mt string) string {
	mt = strings.TrimSpace(mt)
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return strings.ToLower(mt)
}

// sniff detects a type from the file's leading bytes. Octet-stream, the
// detector's answer for "no idea", is reported as "".
func sniff(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if n == 0 && err != nil {
		return ""
	}
	mt := baseType(http.DetectContentType(buf[:n]))
	if mt == "application/octet-stream" {
		return ""
	}
	return mt
}
