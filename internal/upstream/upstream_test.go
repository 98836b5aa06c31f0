package upstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngFile(name string) File {
	return File{Name: name, ContentType: "image/png", Size: 4, Body: strings.NewReader("\x89PNG")}
}

func TestEnhancer_UpscaleFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, header, err := r.FormFile("image")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "cat.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		assert.Equal(t, "\x89PNG", string(data))

		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("upscaled"))
	}))
	defer srv.Close()

	res, err := NewEnhancer(srv.URL, 5*time.Second).UpscaleFile(context.Background(), pngFile("cat.png"))
	require.NoError(t, err)
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.Equal(t, "upscaled", string(body))
}

func TestEnhancer_UpscaleURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "https://tmpfiles.org/dl/1/cat.png", r.URL.Query().Get("image"))
		assert.Equal(t, "4", r.URL.Query().Get("scale"))
		w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	res, err := NewEnhancer(srv.URL+"/api/iloveimg/upscale", 5*time.Second).
		UpscaleURL(context.Background(), "https://tmpfiles.org/dl/1/cat.png", 4)
	require.NoError(t, err)
	res.Body.Close()
}

func TestEnhancer_Errors(t *testing.T) {
	t.Run("non-2xx carries upstream message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"status":false,"message":"quota exceeded"}`))
		}))
		defer srv.Close()

		_, err := NewEnhancer(srv.URL, 5*time.Second).UpscaleURL(context.Background(), "https://x/y.png", 2)
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, ClassStatus, te.Class)
		assert.Equal(t, http.StatusBadGateway, te.StatusCode)
		assert.Equal(t, "quota exceeded", te.Message)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		_, err := NewEnhancer(srv.URL, 50*time.Millisecond).UpscaleURL(context.Background(), "https://x/y.png", 2)
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, ClassTimeout, te.Class)
	})

	t.Run("connection refused", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		l.Close()

		_, err = NewEnhancer("http://"+addr, time.Second).UpscaleFile(context.Background(), pngFile("a.png"))
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, ClassRefused, te.Class)
	})
}

func TestTmpfiles_Stage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			assert.Equal(t, "cat photo.png", header.Filename)
		}
		w.Write([]byte(`{"status":"success","data":{"url":"https://tmpfiles.org/12345/cat photo.png"}}`))
	}))
	defer srv.Close()

	ref, err := NewTmpfiles(srv.URL+"/api/v1/upload", "https://tmpfiles.org/", 5*time.Second).
		Stage(context.Background(), pngFile("cat photo.png"))
	require.NoError(t, err)
	assert.Equal(t, "https://tmpfiles.org/dl/12345/cat%20photo.png", ref.URL)
}

func TestTmpfiles_StageShapeErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason ShapeReason
	}{
		{"missing data", `{"status":"error"}`, ShapeMissingURL},
		{"not json", `<html>busy</html>`, ShapeMissingURL},
		{"url without id", `{"status":"success","data":{"url":"https://tmpfiles.org/abc/cat.png"}}`, ShapeBadURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewTmpfiles(srv.URL, "https://tmpfiles.org", 5*time.Second).Stage(context.Background(), pngFile("cat.png"))
			var se *ShapeError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.reason, se.Reason)
		})
	}
}

func TestTmpfilesID(t *testing.T) {
	tests := []struct {
		url  string
		id   string
		want bool
	}{
		{"https://tmpfiles.org/12345/cat.png", "12345", true},
		{"https://tmpfiles.org/987", "987", true},
		{"http://tmpfiles.org/dl/42/x.jpg", "42", true},
		{"https://tmpfiles.org/abc/cat.png", "", false},
	}
	for _, tt := range tests {
		id, ok := TmpfilesID(tt.url)
		assert.Equal(t, tt.want, ok, tt.url)
		assert.Equal(t, tt.id, id, tt.url)
	}
}

func TestCatbox_Upload(t *testing.T) {
	t.Run("returns plain text url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "fileupload", r.FormValue("reqtype"))
			_, header, err := r.FormFile("fileToUpload")
			if assert.NoError(t, err) {
				assert.Equal(t, "cat.png", header.Filename)
			}
			w.Write([]byte("https://files.catbox.moe/abc123.png\n"))
		}))
		defer srv.Close()

		link, err := NewCatbox(srv.URL, 5*time.Second).Upload(context.Background(), pngFile("cat.png"))
		require.NoError(t, err)
		assert.Equal(t, "https://files.catbox.moe/abc123.png", link)
	})

	t.Run("rejects non url body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("Something went wrong"))
		}))
		defer srv.Close()

		_, err := NewCatbox(srv.URL, 5*time.Second).Upload(context.Background(), pngFile("cat.png"))
		var se *ShapeError
		require.True(t, errors.As(err, &se))
	})
}

func TestS3Stager_Stage(t *testing.T) {
	var gotPath, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			gotPath = r.URL.Path
			gotType = r.Header.Get("Content-Type")
			io.Copy(io.Discard, r.Body)
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stager, err := NewS3Stager(S3Config{
		Endpoint:   strings.TrimPrefix(srv.URL, "http://"),
		Region:     "us-east-1",
		Bucket:     "staging-bucket",
		AccessKey:  "access",
		SecretKey:  "secret",
		PathStyle:  true,
		PresignTTL: time.Minute,
	})
	require.NoError(t, err)

	ref, err := stager.Stage(context.Background(), pngFile("cat.png"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(gotPath, "/staging-bucket/staging/"), gotPath)
	assert.True(t, strings.HasSuffix(gotPath, ".png"), gotPath)
	assert.Equal(t, "image/png", gotType)
	assert.Contains(t, ref.URL, "X-Amz-Signature=")
	assert.Contains(t, ref.URL, "/staging-bucket/staging/")
}
