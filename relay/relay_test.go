package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/DHANNZHOST/imagetohd/internal/metrics"
	"github.com/DHANNZHOST/imagetohd/internal/storage"
	"github.com/DHANNZHOST/imagetohd/internal/upstream"
	"github.com/go-git/go-billy/v6"
	"github.com/go-git/go-billy/v6/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnhancer struct {
	calls       atomic.Int32
	contentType string
	err         error
	// seen holds the bytes received by the last call
	seen     []byte
	seenURL  string
	seenSize int64
	onCall   func()
}

func (f *fakeEnhancer) UpscaleFile(ctx context.Context, file upstream.File) (*upstream.Result, error) {
	f.calls.Add(1)
	if f.onCall != nil {
		f.onCall()
	}
	f.seen, _ = io.ReadAll(file.Body)
	f.seenSize = file.Size
	return f.result()
}

func (f *fakeEnhancer) UpscaleURL(ctx context.Context, imageURL string, scale int) (*upstream.Result, error) {
	f.calls.Add(1)
	f.seenURL = imageURL
	return f.result()
}

func (f *fakeEnhancer) result() (*upstream.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &upstream.Result{ContentType: f.contentType, Body: io.NopCloser(strings.NewReader("ENHANCED"))}, nil
}

type fakeStager struct {
	ref upstream.StagingReference
	err error
}

func (f *fakeStager) Stage(ctx context.Context, file upstream.File) (upstream.StagingReference, error) {
	return f.ref, f.err
}

func testImage() *InboundImage {
	return &InboundImage{Filename: "cat.png", ContentType: "image/png", Data: []byte("\x89PNG-data")}
}

type captured struct {
	contentType string
	body        bytes.Buffer
}

func (c *captured) deliver(contentType string, body io.Reader) error {
	c.contentType = contentType
	_, err := io.Copy(&c.body, body)
	return err
}

func tracedContext() (context.Context, *Trace) {
	ctx := WithTrace(context.Background())
	trace := TraceFrom(ctx)
	trace.Enter(StateValidated)
	return ctx, trace
}

func TestRelay_Direct(t *testing.T) {
	enh := &fakeEnhancer{contentType: "image/jpeg"}
	reg := metrics.NewRegistry()
	rl := &Relay{Mode: ModeDirect, DefaultContentType: "image/png", Enhancer: enh, Metrics: reg}

	ctx, trace := tracedContext()
	var out captured
	require.NoError(t, rl.Upscale(ctx, testImage(), out.deliver))

	assert.Equal(t, "image/jpeg", out.contentType)
	assert.Equal(t, "ENHANCED", out.body.String())
	assert.Equal(t, "\x89PNG-data", string(enh.seen))
	assert.Equal(t, []State{StateReceived, StateValidated, StateEnhancing, StateStreaming, StateDone}, trace.States())
	assert.Equal(t, int64(1), reg.Value("relay_requests_total", map[string]string{"mode": "direct", "outcome": "ok"}))
}

func TestRelay_DefaultContentType(t *testing.T) {
	rl := &Relay{Mode: ModeDirect, DefaultContentType: "image/png", Enhancer: &fakeEnhancer{}}

	var out captured
	require.NoError(t, rl.Upscale(context.Background(), testImage(), out.deliver))
	assert.Equal(t, "image/png", out.contentType)
}

func TestRelay_TwoHop(t *testing.T) {
	enh := &fakeEnhancer{contentType: "image/png"}
	twoHop := &fakeEnhancer{contentType: "image/png"}
	rl := &Relay{
		Mode:           ModeTwoHop,
		TwoHopScale:    4,
		Enhancer:       enh,
		TwoHopEnhancer: twoHop,
		Stager:         &fakeStager{ref: upstream.StagingReference{URL: "https://tmpfiles.org/dl/1/cat.png"}},
	}

	ctx, trace := tracedContext()
	var out captured
	require.NoError(t, rl.Upscale(ctx, testImage(), out.deliver))

	assert.Equal(t, int32(0), enh.calls.Load())
	assert.Equal(t, "https://tmpfiles.org/dl/1/cat.png", twoHop.seenURL)
	assert.Equal(t, []State{StateReceived, StateValidated, StateStagingUploaded, StateEnhancing, StateStreaming, StateDone}, trace.States())
}

func TestRelay_TwoHopShapeErrorSkipsEnhance(t *testing.T) {
	enh := &fakeEnhancer{}
	reg := metrics.NewRegistry()
	rl := &Relay{
		Mode:     ModeTwoHop,
		Enhancer: enh,
		Stager:   &fakeStager{err: &upstream.ShapeError{Host: "tmpfiles.org", Reason: upstream.ShapeBadURL}},
		Metrics:  reg,
	}

	ctx, trace := tracedContext()
	err := rl.Upscale(ctx, testImage(), (&captured{}).deliver)

	assert.Equal(t, KindUpstreamShape, AsError(err).Kind)
	assert.Equal(t, int32(0), enh.calls.Load())
	assert.Equal(t, []State{StateReceived, StateValidated, StateFailed}, trace.States())
	assert.Equal(t, int64(1), reg.Value("relay_requests_total", map[string]string{"mode": "two-hop", "outcome": "upstream_shape"}))
}

func lastState(trace *Trace) State {
	states := trace.States()
	return states[len(states)-1]
}

func TestRelay_DiskStagedRemovesFile(t *testing.T) {
	entries := func(t *testing.T, dir string) []string {
		t.Helper()
		list, err := os.ReadDir(dir)
		require.NoError(t, err)
		var names []string
		for _, e := range list {
			names = append(names, e.Name())
		}
		return names
	}

	tests := []struct {
		name     string
		filename string
		ext      string
		err      error
	}{
		{"success", "cat.png", ".png", nil},
		{"enhance fails", "cat.png", ".png", &upstream.TransportError{Host: "api", Class: upstream.ClassRefused}},
		{"backslash in extension", `cat.p\ng`, "", nil},
		{"windows path", `C:\Users\me\cat.PNG`, ".png", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			store, err := storage.NewOS(dir)
			require.NoError(t, err)

			var duringCall []string
			enh := &fakeEnhancer{err: tt.err}
			enh.onCall = func() { duringCall = entries(t, dir) }
			reg := metrics.NewRegistry()
			rl := &Relay{Mode: ModeDiskStaged, DefaultContentType: "image/png", Enhancer: enh, Store: store, Metrics: reg}

			img := testImage()
			img.Filename = tt.filename
			ctx, trace := tracedContext()
			err = rl.Upscale(ctx, img, (&captured{}).deliver)
			if tt.err != nil {
				assert.Error(t, err)
				assert.Equal(t, StateFailed, lastState(trace))
			} else {
				require.NoError(t, err)
				assert.Equal(t, StateDone, lastState(trace))
				assert.Equal(t, "\x89PNG-data", string(enh.seen))
				assert.Equal(t, int64(len("\x89PNG-data")), enh.seenSize)
			}

			require.Len(t, duringCall, 1)
			assert.Regexp(t, `^staged-\d+-[0-9a-f]{12}`+regexp.QuoteMeta(tt.ext)+`$`, duringCall[0])
			assert.Empty(t, entries(t, dir))
			assert.Zero(t, reg.Value("relay_cleanup_failures_total", nil))
		})
	}
}

// failingRemoveFS refuses every Remove.
type failingRemoveFS struct {
	billy.Filesystem
}

func (failingRemoveFS) Remove(string) error { return errors.New("device busy") }

func TestRelay_DiskStagedCleanupFailure(t *testing.T) {
	reg := metrics.NewRegistry()
	rl := &Relay{
		Mode:               ModeDiskStaged,
		DefaultContentType: "image/png",
		Enhancer:           &fakeEnhancer{contentType: "image/png"},
		Store:              storage.New(failingRemoveFS{memfs.New()}),
		Metrics:            reg,
	}

	ctx, trace := tracedContext()
	var out captured
	require.NoError(t, rl.Upscale(ctx, testImage(), out.deliver))

	assert.Equal(t, "ENHANCED", out.body.String())
	assert.Equal(t, StateDone, lastState(trace))
	assert.Equal(t, int64(1), reg.Value("relay_cleanup_failures_total", nil))
	assert.Equal(t, int64(1), reg.Value("relay_requests_total", map[string]string{"mode": "disk-staged", "outcome": "ok"}))
}

func TestRelay_DeliverFailure(t *testing.T) {
	rl := &Relay{Mode: ModeDirect, Enhancer: &fakeEnhancer{contentType: "image/png"}}
	ctx, trace := tracedContext()

	boom := errors.New("client went away")
	err := rl.Upscale(ctx, testImage(), func(string, io.Reader) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []State{StateReceived, StateValidated, StateEnhancing, StateStreaming, StateFailed}, trace.States())
}

func TestRelay_EnhanceURL(t *testing.T) {
	enh := &fakeEnhancer{contentType: "image/webp"}
	rl := &Relay{Enhancer: enh}

	var out captured
	require.NoError(t, rl.EnhanceURL(context.Background(), "https://example.com/cat.png", 2, out.deliver))
	assert.Equal(t, "https://example.com/cat.png", enh.seenURL)
	assert.Equal(t, "image/webp", out.contentType)
}

func TestTrace_StopsAtTerminal(t *testing.T) {
	trace := NewTrace()
	trace.Enter(StateValidated)
	trace.Fail()
	trace.Enter(StateDone)
	trace.Fail()

	assert.Equal(t, []State{StateReceived, StateValidated, StateFailed}, trace.States())
	assert.Equal(t, "received>validated>failed", trace.String())

	var none *Trace
	none.Enter(StateDone)
	assert.Nil(t, none.States())
	assert.Nil(t, TraceFrom(context.Background()))
}
