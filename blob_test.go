package wavelet_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	wavelet "github.com/wavelet-im/wavelet-go"
)

func TestUploadAvatar(t *testing.T) {
	var gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("method: got %s", r.Method)
		}
		gotPath = r.URL.Path
		if r.Header.Get("Content-Type") != "image/png" {
			t.Errorf("content type: got %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "png-bytes" {
			t.Errorf("body: got %q", body)
		}
		w.Write([]byte(`{"Key": "ok"}`))
	}))

	url, err := client.Blobs().UploadAvatar(context.Background(), "u-1", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(gotPath, "/storage/v1/object/avatars/u-1/") {
		t.Fatalf("object path: got %q", gotPath)
	}
	if !strings.HasSuffix(gotPath, ".png") {
		t.Fatalf("extension: got %q", gotPath)
	}
	wantPrefix := client.BaseURL() + "/storage/v1/object/public/avatars/u-1/"
	if !strings.HasPrefix(url, wantPrefix) {
		t.Fatalf("public URL: got %q, want prefix %q", url, wantPrefix)
	}
}

func TestUploadAvatarRejectsBadInput(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	var werr *wavelet.WriteError
	if _, err := client.Blobs().UploadAvatar(context.Background(), "u-1", nil, "image/png"); !errors.As(err, &werr) {
		t.Fatalf("empty data: got %v", err)
	}
	if _, err := client.Blobs().UploadAvatar(context.Background(), "u-1", []byte("x"), "text/html"); !errors.As(err, &werr) {
		t.Fatalf("bad content type: got %v", err)
	}
}
