package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	methodCreate = "Workspace.create"

	typeFolder      = "folder"
	typeUnspecified = "unspecified"

	uploadField = "upload"
)

// File is one local file to publish. Name is the slash-separated path
// below the batch's remote directory.
type File struct {
	Local string
	Name  string
}

// UploadRecord is the outcome of publishing one file.
type UploadRecord struct {
	FileName   string `json:"fileName"`
	RemotePath string `json:"remotePath"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	ErrorType  string `json:"errorType,omitempty"`
}

// BatchResult aggregates the outcome of a Publish call. A batch that was
// never attempted has Skipped set and carries the reason.
type BatchResult struct {
	TotalFiles int            `json:"totalFiles"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Files      []UploadRecord `json:"files"`
	Success    bool           `json:"success"`
	Skipped    bool           `json:"skipped,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	RemoteDir  string         `json:"remoteDir,omitempty"`
}

// Skipped returns the marker for a batch that was not attempted.
func Skipped(reason string) *BatchResult {
	return &BatchResult{Files: []UploadRecord{}, Skipped: true, Reason: reason}
}

func (b *BatchResult) add(rec UploadRecord) {
	b.Files = append(b.Files, rec)
	if rec.Success {
		b.Successful++
	} else {
		b.Failed++
	}
}

// Publisher stores a batch of run files under remoteDir.
type Publisher interface {
	Publish(ctx context.Context, token, remoteDir string, files []File) *BatchResult
}

// EnsureFolder creates dir as a folder object. An existing folder is not
// an error.
func (c *Client) EnsureFolder(ctx context.Context, dir string) error {
	_, err := c.Call(ctx, methodCreate, createParams(dir, typeFolder, false))
	if err != nil && !IsAlreadyExists(err) {
		return fmt.Errorf("creating folder %s: %w", dir, err)
	}
	return nil
}

// CreateUploadNode registers remotePath as an upload node and returns its
// metadata with LinkReference resolved to an absolute URL.
func (c *Client) CreateUploadNode(ctx context.Context, remotePath string) (*ObjectMeta, error) {
	raw, err := c.Call(ctx, methodCreate, createParams(remotePath, typeUnspecified, true))
	if err != nil {
		return nil, fmt.Errorf("creating upload node: %w", err)
	}
	shape, err := decodeMeta(raw)
	if err != nil {
		return nil, fmt.Errorf("creating upload node: %w", err)
	}
	meta, err := shape.objectMeta()
	if err != nil {
		return nil, fmt.Errorf("creating upload node: %w", err)
	}
	link, err := c.resolve(meta.LinkReference)
	if err != nil {
		return nil, fmt.Errorf("creating upload node: %w", err)
	}
	meta.LinkReference = link
	return meta, nil
}

func createParams(p, objType string, uploadNode bool) map[string]any {
	params := map[string]any{
		"objects":           [][]any{{p, objType, map[string]any{}, ""}},
		"createUploadNodes": uploadNode,
	}
	if uploadNode {
		params["overwrite"] = true
	}
	return params
}

// resolve makes link absolute against the service URL.
func (c *Client) resolve(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", errors.New("response has no upload URL")
	}
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid upload URL %q: %w", link, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.URL)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("cannot resolve relative upload URL %q against %q", link, c.URL)
	}
	return base.ResolveReference(ref).String(), nil
}

// PutFile streams the file at local to uploadURL as the multipart field
// "upload". Only HTTP 200 counts as success.
func (c *Client) PutFile(ctx context.Context, uploadURL, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(uploadField, filepath.Base(local))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, pr)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("upload failed: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "OAuth "+c.Token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Uploader publishes files through the JSON-RPC workspace service.
type Uploader struct {
	URL     string
	Timeout time.Duration // per HTTP request
	Logger  *zap.SugaredLogger
}

// Publish uploads files in order, one at a time. A failed file is recorded
// and the rest are still attempted.
func (u *Uploader) Publish(ctx context.Context, token, remoteDir string, files []File) *BatchResult {
	res := &BatchResult{
		TotalFiles: len(files),
		Files:      make([]UploadRecord, 0, len(files)),
		RemoteDir:  remoteDir,
	}
	client := NewClient(u.URL, token, u.Timeout)
	ensured := make(map[string]bool)

	for _, f := range files {
		remotePath := path.Join(remoteDir, f.Name)
		rec := UploadRecord{FileName: f.Name, RemotePath: remotePath}

		if err := u.publishOne(ctx, client, ensured, f.Local, remotePath); err != nil {
			rec.Error = err.Error()
			u.logger().Warnw("workspace upload failed", "file", f.Name, "remote", remotePath, "error", err)
		} else {
			rec.Success = true
			u.logger().Debugw("workspace upload done", "file", f.Name, "remote", remotePath)
		}
		res.add(rec)
	}
	res.Success = res.Failed == 0
	return res
}

func (u *Uploader) publishOne(ctx context.Context, c *Client, ensured map[string]bool, local, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := path.Dir(remotePath)
	if !ensured[dir] {
		if err := c.EnsureFolder(ctx, dir); err != nil {
			return err
		}
		ensured[dir] = true
	}
	meta, err := c.CreateUploadNode(ctx, remotePath)
	if err != nil {
		return err
	}
	return c.PutFile(ctx, meta.LinkReference, local)
}

func (u *Uploader) logger() *zap.SugaredLogger {
	if u.Logger != nil {
		return u.Logger
	}
	return zap.NewNop().Sugar()
}
