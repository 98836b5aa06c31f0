package relay

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DHANNZHOST/imagetohd/internal/domain"
	"github.com/DHANNZHOST/imagetohd/internal/storage"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// jsTimeFormat matches JavaScript's Date.prototype.toISOString.
const jsTimeFormat = "2006-01-02T15:04:05.000Z"

// streamTo writes the enhanced image as the response body. started is set
// once the status line went out, after which errors can only be logged.
func streamTo(w http.ResponseWriter, started *bool) Deliver {
	return func(contentType string, body io.Reader) error {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		*started = true
		if _, err := io.Copy(w, body); err != nil {
			return &Error{Kind: KindUpstreamTransport, Code: CodeUpstreamFailed, MessageID: CodeUpstreamFailed, Err: err}
		}
		return nil
	}
}

func (a *RelayApp) relayFailed(w http.ResponseWriter, r *http.Request, started bool, err error) {
	if started {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("relay failed after response started")
		return
	}
	writeError(w, r, err)
}

func (a *RelayApp) readImage(w http.ResponseWriter, r *http.Request) (*InboundImage, bool) {
	img, err := ReadInboundImage(r, "image", a.limits())
	if err != nil {
		TraceFrom(r.Context()).Fail()
		writeError(w, r, err)
		return nil, false
	}
	TraceFrom(r.Context()).Enter(StateValidated)
	zerolog.Ctx(r.Context()).Debug().
		Str("filename", img.Filename).
		Str("content_type", img.ContentType).
		Str("size", humanize.IBytes(uint64(img.Size()))).
		Msg("image received")
	return img, true
}

func (a *RelayApp) handleUpscale(w http.ResponseWriter, r *http.Request) {
	img, ok := a.readImage(w, r)
	if !ok {
		return
	}
	var started bool
	if err := a.Relay.Upscale(r.Context(), img, streamTo(w, &started)); err != nil {
		a.relayFailed(w, r, started, err)
	}
}

func (a *RelayApp) handleEnhance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fail := func(err error) {
		TraceFrom(ctx).Fail()
		writeError(w, r, err)
	}

	imageURL := r.URL.Query().Get("image")
	if imageURL == "" {
		fail(clientError(CodeMissingImageURL, nil))
		return
	}
	if u, err := url.Parse(imageURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fail(clientError(CodeInvalidImageURL, nil))
		return
	}

	scale := a.Config.Relay.DefaultScale
	if raw := r.URL.Query().Get("scale"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(clientError(CodeInvalidScale, nil))
			return
		}
		scale = n
	}
	TraceFrom(ctx).Enter(StateValidated)

	var started bool
	if err := a.Relay.EnhanceURL(ctx, imageURL, scale, streamTo(w, &started)); err != nil {
		a.relayFailed(w, r, started, err)
	}
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message"`
}

func (a *RelayApp) handleUploadCatbox(w http.ResponseWriter, r *http.Request) {
	img, ok := a.readImage(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	link, err := a.Paster.Upload(ctx, img.File())
	if err != nil {
		TraceFrom(ctx).Fail()
		a.Metrics.Inc(ctx, "catbox_uploads_total", map[string]string{"outcome": AsError(err).Kind.String()}, 1)
		writeError(w, r, err)
		return
	}
	TraceFrom(ctx).Enter(StateDone)
	a.Metrics.Inc(ctx, "catbox_uploads_total", map[string]string{"outcome": "ok"}, 1)
	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		URL:     link,
		Message: LocalizeWithContext(ctx, "catbox_success"),
	})
}

func (a *RelayApp) handleUploadLocal(w http.ResponseWriter, r *http.Request) {
	img, ok := a.readImage(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	fail := func(err error) {
		TraceFrom(ctx).Fail()
		writeError(w, r, err)
	}

	stored, err := a.Store.Save(img.Filename, img.Reader())
	if err != nil {
		fail(err)
		return
	}
	_, err = a.Uploads.Create(ctx, &domain.Upload{
		Filename:         stored.Filename,
		Path:             stored.Path,
		OriginalFilename: img.Filename,
		MimeType:         img.ContentType,
		Size:             stored.Size,
		SHA256:           stored.SHA256,
		CreatedAt:        a.clock(),
	})
	if err != nil {
		if rmErr := a.Store.Remove(stored.Filename); rmErr != nil {
			zerolog.Ctx(ctx).Warn().Err(rmErr).Str("file", stored.Filename).Msg("failed to remove unrecorded upload")
			a.Metrics.Inc(ctx, "relay_cleanup_failures_total", nil, 1)
		}
		fail(err)
		return
	}
	TraceFrom(ctx).Enter(StateDone)

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:  true,
		URL:      a.publicURL(r, stored.Filename),
		Filename: stored.Filename,
		Message:  LocalizeWithContext(ctx, "upload_success"),
	})
}

// publicURL builds the address a stored file is served at, from the
// configured public URL or else the request's own scheme and host.
func (a *RelayApp) publicURL(r *http.Request, filename string) string {
	base := strings.TrimSuffix(a.Config.Server.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + a.Config.Uploads.URLPrefix + url.PathEscape(filename)
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleDeleteLocal removes a recorded upload. Names without a live
// record, staged files included, are reported as missing.
func (a *RelayApp) handleDeleteLocal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filename := r.PathValue("filename")
	if storage.IsStaged(filename) {
		writeError(w, r, notFoundError(CodeFileNotFound))
		return
	}

	upload, err := a.Uploads.GetByFilename(ctx, filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if upload == nil || upload.Deleted() {
		writeError(w, r, notFoundError(CodeFileNotFound))
		return
	}

	err = a.Store.Remove(filename)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, err)
		return
	}
	if mkErr := a.Uploads.MarkDeleted(ctx, filename); mkErr != nil {
		zerolog.Ctx(ctx).Warn().Err(mkErr).Str("file", filename).Msg("failed to mark upload as deleted")
	}
	if err != nil {
		writeError(w, r, notFoundError(CodeFileNotFound))
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: LocalizeWithContext(ctx, "delete_success"),
	})
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

func (a *RelayApp) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: a.clock().UTC().Format(jsTimeFormat),
		Service:   a.Config.Server.Service,
	})
}

type uploadItem struct {
	Filename         string     `json:"filename"`
	URL              string     `json:"url"`
	OriginalFilename string     `json:"original_filename,omitempty"`
	MimeType         string     `json:"mime_type"`
	Size             int64      `json:"size"`
	SizeHuman        string     `json:"size_human"`
	SHA256           string     `json:"sha256"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

func (a *RelayApp) handleListUploads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	includeDeleted, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	uploads, err := a.Uploads.List(ctx, includeDeleted)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := a.Uploads.Count(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]uploadItem, 0, len(uploads))
	for _, u := range uploads {
		items = append(items, uploadItem{
			Filename:         u.Filename,
			URL:              a.publicURL(r, u.Filename),
			OriginalFilename: u.OriginalFilename,
			MimeType:         u.MimeType,
			Size:             u.Size,
			SizeHuman:        humanize.IBytes(uint64(u.Size)),
			SHA256:           u.SHA256,
			CreatedAt:        u.CreatedAt.UTC(),
			DeletedAt:        u.DeletedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uploads": items,
		"count":   len(items),
		"stored":  stored,
	})
}

func (a *RelayApp) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if storage.IsStaged(name) {
		http.NotFound(w, r)
		return
	}
	f, err := a.Store.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := a.Store.Stat(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (a *RelayApp) handleIndex(w http.ResponseWriter, r *http.Request) {
	if err := RenderIndex(w, a.Config); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to render index")
		writeError(w, r, err)
	}
}
