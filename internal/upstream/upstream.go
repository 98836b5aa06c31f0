// Package upstream talks to the third-party hosts the relay forwards to:
// the upscale endpoint, the tmpfiles and catbox file hosts and an
// S3-compatible staging bucket.
package upstream

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// File is an image handed to a remote host.
type File struct {
	Name        string
	ContentType string
	// Size is -1 when unknown.
	Size int64
	Body io.Reader
}

// Result is the image returned by the enhance endpoint. Body must be closed.
type Result struct {
	ContentType string
	Body        io.ReadCloser
}

// StagingReference is a publicly fetchable URL for a staged image.
type StagingReference struct {
	URL string
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartBody streams fields followed by one file part through a pipe so
// large files are never buffered. The returned string is the request
// content type.
func multipartBody(fields [][2]string, fileField string, f File) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(mw, fields, fileField, f)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func writeMultipart(mw *multipart.Writer, fields [][2]string, fileField string, f File) error {
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(fileField), quoteEscaper.Replace(f.Name)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f.Body)
	return err
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
