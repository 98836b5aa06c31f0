package relay

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"

	"github.com/abiosoft/mold"
	"github.com/dustin/go-humanize"
	"github.com/russross/blackfriday/v2"
)

var (
	//go:embed templates/*.html
	templateFS embed.FS

	// renderer lays views out inside templates/layout.html
	renderer mold.Engine
)

func init() {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic(err)
	}
	renderer, err = mold.New(sub)
	if err != nil {
		panic(err)
	}
}

func markdown(text string) template.HTML {
	return template.HTML(blackfriday.Run([]byte(text)))
}

// indexMarkdown documents the running instance's API.
func indexMarkdown(cfg *Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", cfg.Server.Service)
	fmt.Fprintf(&b, "Relay mode: **%s**. Uploads are limited to %s (%s).\n\n",
		cfg.Relay.Mode,
		humanize.IBytes(uint64(cfg.Relay.MaxFileSize)),
		strings.Join(cfg.Relay.AllowedExtensions, ", "))
	fmt.Fprintf(&b, "## Endpoints\n\n")
	fmt.Fprintf(&b, "- `POST /api/upscale` multipart field `image`, answers with the enhanced image\n")
	fmt.Fprintf(&b, "- `GET /api/enhance?image=<url>&scale=<n>` scale defaults to %d\n", cfg.Relay.DefaultScale)
	fmt.Fprintf(&b, "- `POST /api/upload-catbox` multipart field `image`\n")
	fmt.Fprintf(&b, "- `POST /api/upload-local` multipart field `image`, served from `%s`\n", cfg.Uploads.URLPrefix)
	fmt.Fprintf(&b, "- `DELETE /api/upload-local/{filename}`\n")
	fmt.Fprintf(&b, "- `GET /api/uploads`\n")
	fmt.Fprintf(&b, "- `GET /api/health`\n")
	fmt.Fprintf(&b, "- `GET /api/metrics`\n")
	return b.String()
}

// RenderIndex renders the landing page. Nothing is written to w when
// rendering fails.
func RenderIndex(w io.Writer, cfg *Config) error {
	var buf bytes.Buffer
	err := renderer.Render(&buf, "index.html", map[string]any{
		"Title":   cfg.Server.Service,
		"Content": markdown(indexMarkdown(cfg)),
	})
	if err != nil {
		return fmt.Errorf("while rendering index: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}
