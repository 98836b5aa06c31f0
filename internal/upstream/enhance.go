package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Enhancer calls the image upscaling endpoint. The endpoint accepts either
// a multipart "image" field (POST) or "image" + "scale" query parameters
// pointing at a public URL (GET), and answers with raw image bytes.
type Enhancer struct {
	endpoint string
	host     string
	client   *http.Client
}

func NewEnhancer(endpoint string, timeout time.Duration) *Enhancer {
	return &Enhancer{
		endpoint: endpoint,
		host:     hostOf(endpoint),
		client:   newHTTPClient(timeout),
	}
}

// UpscaleFile posts f as the multipart "image" field.
func (e *Enhancer) UpscaleFile(ctx context.Context, f File) (*Result, error) {
	body, contentType := multipartBody(nil, "image", f)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		body.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return e.do(req)
}

// UpscaleURL asks the endpoint to fetch imageURL itself.
func (e *Enhancer) UpscaleURL(ctx context.Context, imageURL string, scale int) (*Result, error) {
	u, err := url.Parse(e.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("image", imageURL)
	q.Set("scale", strconv.Itoa(scale))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return e.do(req)
}

func (e *Enhancer) do(req *http.Request) (*Result, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classify(e.host, err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, statusError(e.host, resp)
	}
	return &Result{
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}, nil
}
