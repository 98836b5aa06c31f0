package upstream

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// Catbox uploads images to a catbox.moe style paste host, which answers
// with the public URL as plain text.
type Catbox struct {
	endpoint string
	host     string
	client   *http.Client
}

func NewCatbox(endpoint string, timeout time.Duration) *Catbox {
	return &Catbox{
		endpoint: endpoint,
		host:     hostOf(endpoint),
		client:   newHTTPClient(timeout),
	}
}

// Upload returns the public URL of f.
func (c *Catbox) Upload(ctx context.Context, f File) (string, error) {
	body, contentType := multipartBody([][2]string{{"reqtype", "fileupload"}}, "fileToUpload", f)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		body.Close()
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classify(c.host, err)
	}
	if !isSuccess(resp.StatusCode) {
		return "", statusError(c.host, resp)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return "", classify(c.host, err)
	}
	link := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return "", &ShapeError{Host: c.host, Reason: ShapeBadURL, Detail: "expected a URL, got " + truncate(link, 120)}
	}
	return link, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
