package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var tmpfilesIDPattern = regexp.MustCompile(`/(\d+)(?:/|$)`)

// Tmpfiles stages images on a tmpfiles.org style host. The host answers an
// upload with {"data":{"url":".../<id>/<name>"}}; the direct download link
// is {host}/dl/<id>/<name>.
type Tmpfiles struct {
	uploadURL    string
	downloadBase string
	host         string
	client       *http.Client
}

func NewTmpfiles(uploadURL, downloadBase string, timeout time.Duration) *Tmpfiles {
	return &Tmpfiles{
		uploadURL:    uploadURL,
		downloadBase: strings.TrimRight(downloadBase, "/"),
		host:         hostOf(uploadURL),
		client:       newHTTPClient(timeout),
	}
}

type tmpfilesResponse struct {
	Status string `json:"status"`
	Data   *struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Stage uploads f as the multipart "file" field and returns its download URL.
func (t *Tmpfiles) Stage(ctx context.Context, f File) (StagingReference, error) {
	body, contentType := multipartBody(nil, "file", f)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.uploadURL, body)
	if err != nil {
		body.Close()
		return StagingReference{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return StagingReference{}, classify(t.host, err)
	}
	if !isSuccess(resp.StatusCode) {
		return StagingReference{}, statusError(t.host, resp)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StagingReference{}, classify(t.host, err)
	}
	var out tmpfilesResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Data == nil || out.Data.URL == "" {
		return StagingReference{}, &ShapeError{Host: t.host, Reason: ShapeMissingURL, Detail: "no data.url in upload response"}
	}

	id, ok := TmpfilesID(out.Data.URL)
	if !ok {
		return StagingReference{}, &ShapeError{Host: t.host, Reason: ShapeBadURL, Detail: "no numeric id in " + out.Data.URL}
	}
	return StagingReference{URL: t.downloadBase + "/dl/" + id + "/" + url.PathEscape(f.Name)}, nil
}

// TmpfilesID extracts the numeric id segment from a tmpfiles URL.
func TmpfilesID(rawURL string) (string, bool) {
	m := tmpfilesIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}
