package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/digkill/medpost/internal/models"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.objects[r.URL.Path] = string(body)
	f.types[r.URL.Path] = r.Header.Get("Content-Type")
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func newTestUploader(t *testing.T) (*Uploader, *fakeS3) {
	t.Helper()
	s3 := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	srv := httptest.NewServer(s3)
	t.Cleanup(srv.Close)
	u, err := NewUploader(Config{
		Endpoint:      srv.URL,
		Region:        "us-east-1",
		AccessKey:     "ak",
		SecretKey:     "sk",
		Bucket:        "media",
		PublicBaseURL: "https://cdn.example.com/",
		UsePathStyle:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return u, s3
}

func TestNewUploaderValidates(t *testing.T) {
	if _, err := NewUploader(Config{Region: "r", AccessKey: "a", SecretKey: "s", PublicBaseURL: "u"}); err == nil {
		t.Fatal("missing bucket accepted")
	}
}

func TestMirrorVideo(t *testing.T) {
	u, s3 := newTestUploader(t)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, "not really a video")
	}))
	defer source.Close()

	got, err := u.Mirror(context.Background(), source.URL+"/v.mp4", models.CapabilityVideo)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "https://cdn.example.com/media/video/") || !strings.HasSuffix(got, ".mp4") {
		t.Fatalf("url = %q", got)
	}
	key := strings.TrimPrefix(got, "https://cdn.example.com/")
	if s3.objects["/media/"+key] != "not really a video" || s3.types["/media/"+key] != "video/mp4" {
		t.Fatalf("objects = %v types = %v", s3.objects, s3.types)
	}
}

func TestMirrorKeepsImageType(t *testing.T) {
	u, _ := newTestUploader(t)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp; charset=binary")
		_, _ = io.WriteString(w, "RIFF")
	}))
	defer source.Close()

	got, err := u.Mirror(context.Background(), source.URL, models.CapabilityImage)
	if err != nil || !strings.HasSuffix(got, ".webp") {
		t.Fatalf("url=%q err=%v", got, err)
	}
}

func TestMirrorSourceFailure(t *testing.T) {
	u, _ := newTestUploader(t)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer source.Close()

	if _, err := u.Mirror(context.Background(), source.URL, models.CapabilityImage); err == nil {
		t.Fatal("expected error")
	}
}

func TestMirrorSizeLimit(t *testing.T) {
	u, _ := newTestUploader(t)
	u.cfg.MaxBytes = 4
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "too large")
	}))
	defer source.Close()

	if _, err := u.Mirror(context.Background(), source.URL, models.CapabilityImage); err == nil {
		t.Fatal("expected size error")
	}
}
