package relay

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/DHANNZHOST/imagetohd/internal/storage"
	"github.com/DHANNZHOST/imagetohd/internal/upstream"
	"github.com/dustin/go-humanize"
)

// InboundImage is the single file a request carries.
type InboundImage struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (img *InboundImage) Size() int64 { return int64(len(img.Data)) }

func (img *InboundImage) Reader() io.Reader { return bytes.NewReader(img.Data) }

// Ext is the lowercased extension including the dot.
func (img *InboundImage) Ext() string {
	return storage.Ext(storage.SanitizeFilename(img.Filename))
}

// File describes the image for an upstream call, reading from memory.
func (img *InboundImage) File() upstream.File {
	return upstream.File{
		Name:        img.Filename,
		ContentType: img.ContentType,
		Size:        img.Size(),
		Body:        img.Reader(),
	}
}

// Limits is the type and size filter applied to inbound files.
type Limits struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

// Allowed accepts any image/* content type. A missing or generic content
// type falls back to the extension allow-list.
func (l Limits) Allowed(filename, contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if strings.HasPrefix(mediaType, "image/") {
		return true
	}
	if mediaType != "" && mediaType != "application/octet-stream" {
		return false
	}
	ext := strings.TrimPrefix(storage.Ext(filename), ".")
	return ext != "" && slices.Contains(l.AllowedExtensions, ext)
}

func (l Limits) tooLarge() *Error {
	return clientError(CodeFileTooLarge, map[string]any{"Limit": humanize.IBytes(uint64(l.MaxFileSize))})
}

// ReadInboundImage streams the multipart body and returns the one file
// found under field. Type is checked from the part headers before any of
// the file is read; size is checked while reading.
func ReadInboundImage(r *http.Request, field string, limits Limits) (*InboundImage, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, clientError(CodeMissingFile, nil)
		}
		return nil, &Error{Kind: KindClientInput, Code: CodeInvalidMultipart, MessageID: CodeInvalidMultipart, Err: err}
	}

	var img *InboundImage
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, readError(err, limits)
		}

		if part.FormName() != field || part.FileName() == "" {
			_, err = io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				return nil, readError(err, limits)
			}
			continue
		}
		if img != nil {
			part.Close()
			return nil, clientError(CodeTooManyFiles, nil)
		}

		contentType := part.Header.Get("Content-Type")
		if !limits.Allowed(part.FileName(), contentType) {
			part.Close()
			return nil, clientError(CodeUnsupportedType, nil)
		}

		data, err := io.ReadAll(io.LimitReader(part, limits.MaxFileSize+1))
		part.Close()
		if err != nil {
			return nil, readError(err, limits)
		}
		if int64(len(data)) > limits.MaxFileSize {
			return nil, limits.tooLarge()
		}
		img = &InboundImage{
			Filename:    part.FileName(),
			ContentType: contentType,
			Data:        data,
		}
	}

	if img == nil {
		return nil, clientError(CodeMissingFile, nil)
	}
	return img, nil
}

func readError(err error, limits Limits) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return limits.tooLarge()
	}
	return &Error{Kind: KindClientInput, Code: CodeInvalidMultipart, MessageID: CodeInvalidMultipart, Err: err}
}
