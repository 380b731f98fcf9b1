package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Publisher pushes snapshot documents to a GitHub repository through the
// contents API.
type Publisher struct {
	Owner  string
	Repo   string
	Branch string
	Path   string
	GzPath string
	// MaxBytes is the plain-JSON size above which the gzip path is used.
	MaxBytes int
	Logger   *zap.Logger

	client *resty.Client
	now    func() time.Time
}

// NewPublisher builds a Publisher authenticated with token. baseURL defaults
// to the public GitHub API.
func NewPublisher(baseURL, token, owner, repo, branch string, logger *zap.Logger) *Publisher {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetAuthToken(token).
		SetHeader("Accept", "application/vnd.github+json")
	return &Publisher{
		Owner:  owner,
		Repo:   repo,
		Branch: branch,
		Logger: logger,
		client: client,
		now:    time.Now,
	}
}

type contentsFile struct {
	SHA string `json:"sha"`
}

type putContents struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

// Publish uploads the snapshot, switching to the gzip path when the plain
// document exceeds MaxBytes. Returns the repository path that was written.
func (p *Publisher) Publish(ctx context.Context, snapshot []byte) (string, error) {
	path := p.Path
	payload := snapshot
	if p.MaxBytes > 0 && len(snapshot) > p.MaxBytes && p.GzPath != "" {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(snapshot); err != nil {
			return "", fmt.Errorf("archive: gzip snapshot: %w", err)
		}
		if err := zw.Close(); err != nil {
			return "", fmt.Errorf("archive: gzip snapshot: %w", err)
		}
		p.Logger.Info("snapshot over size limit, publishing gzip",
			zap.Int("plain_bytes", len(snapshot)), zap.Int("gzip_bytes", buf.Len()))
		path = p.GzPath
		payload = buf.Bytes()
	}

	sha, err := p.currentSHA(ctx, path)
	if err != nil {
		return "", err
	}

	day := p.now().UTC().Format("2006-01-02")
	body := putContents{
		Message: fmt.Sprintf("chore(observations): export daily %s [skip ci]", day),
		Content: base64.StdEncoding.EncodeToString(payload),
		Branch:  p.Branch,
		SHA:     sha,
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(body).
		Put(p.contentsURL(path))
	if err != nil {
		return "", fmt.Errorf("archive: put contents: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("archive: put contents: HTTP %d: %s", resp.StatusCode(), preview(resp.Body()))
	}

	p.Logger.Info("snapshot published",
		zap.String("repo", p.Owner+"/"+p.Repo), zap.String("path", path), zap.Int("bytes", len(payload)))
	return path, nil
}

// currentSHA reads the blob SHA of the target path. A 404 means the file
// does not exist yet and is not an error.
func (p *Publisher) currentSHA(ctx context.Context, path string) (string, error) {
	var file contentsFile
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("ref", p.Branch).
		SetResult(&file).
		Get(p.contentsURL(path))
	if err != nil {
		return "", fmt.Errorf("archive: get contents: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", nil
	}
	if resp.IsError() {
		return "", fmt.Errorf("archive: get contents: HTTP %d: %s", resp.StatusCode(), preview(resp.Body()))
	}
	return file.SHA, nil
}

func (p *Publisher) contentsURL(path string) string {
	return fmt.Sprintf("/repos/%s/%s/contents/%s", p.Owner, p.Repo, path)
}

func preview(body []byte) string {
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
