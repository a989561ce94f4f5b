package bucket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/runbox/internal/workspace"
)

// fakeS3 accepts path-style PutObject requests.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string // "/bucket/key" -> body
	types   map[string]string
	deny    map[string]bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny[r.URL.Path] {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
		return
	}
	f.objects[r.URL.Path] = string(body)
	f.types[r.URL.Path] = r.Header.Get("Content-Type")
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func newTestPublisher(t *testing.T, prefix string) (*Publisher, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string]string{}, types: map[string]string{}, deny: map[string]bool{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:           "us-east-1",
		BaseEndpoint:     aws.String(srv.URL),
		UsePathStyle:     true,
		Credentials:      aws.AnonymousCredentials{},
		RetryMaxAttempts: 1,
	})
	return NewWithClient(client, "runs", prefix, nil), fake
}

func localFiles(t *testing.T, names ...string) []workspace.File {
	t.Helper()
	dir := t.TempDir()
	var files []workspace.File
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("data:"+n), 0o644))
		files = append(files, workspace.File{Local: p, Name: n})
	}
	return files
}

func TestPublish_WritesObjects(t *testing.T) {
	p, fake := newTestPublisher(t, "code-runs")
	files := localFiles(t, "script", "table.csv")

	res := p.Publish(context.Background(), "un=alice|x", "/alice/home/CodeRuns/s1/run_1", files)

	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, "s3://runs/code-runs/alice/home/CodeRuns/s1/run_1/script", res.Files[0].RemotePath)
	assert.Equal(t, "data:table.csv", fake.objects["/runs/code-runs/alice/home/CodeRuns/s1/run_1/table.csv"])
	assert.True(t, strings.HasPrefix(fake.types["/runs/code-runs/alice/home/CodeRuns/s1/run_1/table.csv"], "text/csv"))
}

func TestPublish_OneDenied(t *testing.T) {
	p, fake := newTestPublisher(t, "")
	fake.deny["/runs/alice/r/b.txt"] = true
	files := localFiles(t, "a.txt", "b.txt", "c.txt")

	res := p.Publish(context.Background(), "", "/alice/r", files)

	assert.False(t, res.Success)
	assert.Equal(t, 3, res.TotalFiles)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, res.Files[0].Success)
	assert.False(t, res.Files[1].Success)
	assert.Contains(t, res.Files[1].Error, "AccessDenied")
	assert.True(t, res.Files[2].Success)
}

func TestKey(t *testing.T) {
	p := NewWithClient(nil, "b", "", nil)
	assert.Equal(t, "alice/home/x/out.txt", p.Key("/alice/home/x", "out.txt"))

	p = NewWithClient(nil, "b", "/pre/", nil)
	assert.Equal(t, "pre/alice/out.txt", p.Key("/alice", "out.txt"))
}
