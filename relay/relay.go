package relay

import (
	"context"
	"fmt"
	"io"

	"github.com/DHANNZHOST/imagetohd/internal/metrics"
	"github.com/DHANNZHOST/imagetohd/internal/storage"
	"github.com/DHANNZHOST/imagetohd/internal/upstream"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Enhancer is the upscaling endpoint.
type Enhancer interface {
	UpscaleFile(ctx context.Context, f upstream.File) (*upstream.Result, error)
	UpscaleURL(ctx context.Context, imageURL string, scale int) (*upstream.Result, error)
}

// Stager turns raw bytes into a publicly fetchable URL.
type Stager interface {
	Stage(ctx context.Context, f upstream.File) (upstream.StagingReference, error)
}

// Paster uploads a file to a paste host and returns its public link.
type Paster interface {
	Upload(ctx context.Context, f upstream.File) (string, error)
}

// Deliver writes the enhanced image to the caller. It is called at most
// once, after the enhance endpoint answered successfully.
type Deliver func(contentType string, body io.Reader) error

// Relay runs the upload-relay pipeline for one configured mode.
type Relay struct {
	Mode               Mode
	TwoHopScale        int
	DefaultContentType string

	Enhancer Enhancer
	// TwoHopEnhancer is used for URL calls in two-hop mode; Enhancer when nil.
	TwoHopEnhancer Enhancer
	Stager         Stager
	Store          *storage.Store
	Metrics        *metrics.Registry
}

// Upscale relays img to the enhance endpoint according to the mode and
// hands the result to deliver. Any local file created on the way is removed
// before Upscale returns.
func (rl *Relay) Upscale(ctx context.Context, img *InboundImage, deliver Deliver) error {
	var err error
	switch rl.Mode {
	case ModeDirect, "":
		err = rl.direct(ctx, img, deliver)
	case ModeTwoHop:
		err = rl.twoHop(ctx, img, deliver)
	case ModeDiskStaged:
		err = rl.diskStaged(ctx, img, deliver)
	default:
		err = unhandledError(fmt.Errorf("unknown relay mode %q", rl.Mode))
	}
	rl.finish(ctx, rl.Mode, err)
	return err
}

// EnhanceURL asks the enhance endpoint to fetch imageURL itself.
func (rl *Relay) EnhanceURL(ctx context.Context, imageURL string, scale int, deliver Deliver) error {
	TraceFrom(ctx).Enter(StateEnhancing)
	res, err := rl.Enhancer.UpscaleURL(ctx, imageURL, scale)
	if err == nil {
		err = rl.stream(ctx, res, deliver)
	}
	rl.finish(ctx, "url", err)
	return err
}

func (rl *Relay) direct(ctx context.Context, img *InboundImage, deliver Deliver) error {
	TraceFrom(ctx).Enter(StateEnhancing)
	res, err := rl.Enhancer.UpscaleFile(ctx, img.File())
	if err != nil {
		return err
	}
	return rl.stream(ctx, res, deliver)
}

func (rl *Relay) twoHop(ctx context.Context, img *InboundImage, deliver Deliver) error {
	if rl.Stager == nil {
		return unhandledError(fmt.Errorf("two-hop mode requires a staging backend"))
	}
	ref, err := rl.Stager.Stage(ctx, img.File())
	if err != nil {
		return err
	}
	TraceFrom(ctx).Enter(StateStagingUploaded)
	zerolog.Ctx(ctx).Debug().Str("staging_url", ref.URL).Msg("image staged")

	enhancer := rl.TwoHopEnhancer
	if enhancer == nil {
		enhancer = rl.Enhancer
	}
	TraceFrom(ctx).Enter(StateEnhancing)
	res, err := enhancer.UpscaleURL(ctx, ref.URL, rl.TwoHopScale)
	if err != nil {
		return err
	}
	return rl.stream(ctx, res, deliver)
}

func (rl *Relay) diskStaged(ctx context.Context, img *InboundImage, deliver Deliver) error {
	if rl.Store == nil {
		return unhandledError(fmt.Errorf("disk-staged mode requires an upload store"))
	}
	staged, err := rl.Store.Stage(img.Ext(), img.Reader())
	if err != nil {
		return fmt.Errorf("while staging upload on disk: %w", err)
	}
	defer rl.release(ctx, staged)
	TraceFrom(ctx).Enter(StateStagingUploaded)
	zerolog.Ctx(ctx).Debug().
		Str("file", staged.Filename).
		Str("size", humanize.IBytes(uint64(staged.Size))).
		Msg("image staged on disk")

	f, err := staged.Open()
	if err != nil {
		return fmt.Errorf("while opening staged file '%s': %w", staged.Filename, err)
	}
	defer f.Close()

	TraceFrom(ctx).Enter(StateEnhancing)
	res, err := rl.Enhancer.UpscaleFile(ctx, upstream.File{
		Name:        img.Filename,
		ContentType: img.ContentType,
		Size:        staged.Size,
		Body:        f,
	})
	if err != nil {
		return err
	}
	return rl.stream(ctx, res, deliver)
}

func (rl *Relay) stream(ctx context.Context, res *upstream.Result, deliver Deliver) error {
	defer res.Body.Close()
	TraceFrom(ctx).Enter(StateStreaming)
	contentType := res.ContentType
	if contentType == "" {
		contentType = rl.DefaultContentType
	}
	if err := deliver(contentType, res.Body); err != nil {
		return err
	}
	TraceFrom(ctx).Enter(StateDone)
	return nil
}

// release removes a staged file. A failure is logged and counted but never
// changes the outcome of the relay.
func (rl *Relay) release(ctx context.Context, staged *storage.Staged) {
	if err := staged.Release(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("file", staged.Filename).Msg("failed to remove staged file")
		rl.Metrics.Inc(ctx, "relay_cleanup_failures_total", nil, 1)
	}
}

func (rl *Relay) finish(ctx context.Context, mode Mode, err error) {
	outcome := "ok"
	if err != nil {
		TraceFrom(ctx).Fail()
		outcome = AsError(err).Kind.String()
	}
	rl.Metrics.Inc(ctx, "relay_requests_total", map[string]string{"mode": string(mode), "outcome": outcome}, 1)
}
