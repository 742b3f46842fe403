package remote_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mio/internal/config"
	"mio/internal/remote"
	"mio/internal/services"
	"mio/internal/testsupport"
)

func TestPublicURLMapper(t *testing.T) {
	m := remote.NewPublicURLMapper("/srv/media", "https://cdn.example.test/uploads/")
	got, ok := m.URL("/srv/media/2024/01/my photo.jpg")
	if !ok {
		t.Fatal("expected mapping for path under root")
	}
	if got != "https://cdn.example.test/uploads/2024/01/my%20photo.jpg" {
		t.Fatalf("unexpected url %q", got)
	}
	if _, ok := m.URL("/srv/other/a.jpg"); ok {
		t.Fatal("expected no mapping outside root")
	}
	if _, ok := m.URL("/srv/media"); ok {
		t.Fatal("expected no mapping for root itself")
	}
	if _, ok := remote.NewPublicURLMapper("/srv/media", "").URL("/srv/media/a.jpg"); ok {
		t.Fatal("expected no mapping without base url")
	}
}

func TestReSmushItReplacesFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := testsupport.MediaPath(cfg, "2024", "photo.jpg")
	testsupport.WriteFile(t, path, 4096)
	optimized := bytes.Repeat([]byte{0x01}, 1024)

	var gotImg, gotQuality string
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/ws.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		_ = r.ParseForm()
		gotImg = r.PostForm.Get("img")
		gotQuality = r.PostForm.Get("qlty")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"src":%q,"dest":"%s/result.jpg","src_size":4096,"dest_size":1024,"percent":75}`, gotImg, server.URL)
	})
	mux.HandleFunc("/result.jpg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(optimized)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	cfg.Remote.ReSmushItEndpoint = server.URL + "/ws.php"
	provider := remote.NewProvider(cfg, server.Client(), nil)
	if provider.ServiceName() != "reSmush.it" {
		t.Fatalf("expected reSmush.it, got %s", provider.ServiceName())
	}
	ok, err := provider.Optimize(context.Background(), path, remote.Options{Quality: 70})
	if err != nil || !ok {
		t.Fatalf("optimize: ok=%v err=%v", ok, err)
	}
	if gotImg != "https://media.example.test/2024/photo.jpg" {
		t.Fatalf("unexpected img param %q", gotImg)
	}
	if gotQuality != "70" {
		t.Fatalf("unexpected quality param %q", gotQuality)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, optimized) {
		t.Fatalf("file not replaced, size %d", len(data))
	}
}

func TestReSmushItAPIErrorLeavesFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := testsupport.MediaPath(cfg, "photo.jpg")
	testsupport.WriteFile(t, path, 2048)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":403,"error_long":"Image too large"}`)
	}))
	defer server.Close()
	cfg.Remote.ReSmushItEndpoint = server.URL

	provider := remote.NewProvider(cfg, server.Client(), nil)
	ok, err := provider.Optimize(context.Background(), path, remote.Options{})
	if ok || err == nil {
		t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
	}
	if !errors.Is(err, services.ErrRemoteFailure) {
		t.Fatalf("expected remote failure, got %v", err)
	}
	assertSize(t, path, 2048)
}

func TestReSmushItFailureModes(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"non-200": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusBadGateway)
		},
		"malformed json": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{not json`)
		},
		"missing dest": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"src_size":10}`)
		},
		"download fails": func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				fmt.Fprintf(w, `{"dest":"http://%s/missing"}`, r.Host)
				return
			}
			http.NotFound(w, r)
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			path := testsupport.MediaPath(cfg, "photo.jpg")
			testsupport.WriteFile(t, path, 2048)
			server := httptest.NewServer(handler)
			defer server.Close()
			cfg.Remote.ReSmushItEndpoint = server.URL

			ok, err := remote.NewProvider(cfg, server.Client(), nil).Optimize(context.Background(), path, remote.Options{})
			if ok || !errors.Is(err, services.ErrRemoteFailure) {
				t.Fatalf("expected remote failure, got ok=%v err=%v", ok, err)
			}
			assertSize(t, path, 2048)
		})
	}
}

func TestReSmushItRejectsUnmappablePath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(testsupport.BaseDir(cfg), "outside.jpg")
	testsupport.WriteFile(t, path, 2048)
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()
	cfg.Remote.ReSmushItEndpoint = server.URL

	ok, err := remote.NewProvider(cfg, server.Client(), nil).Optimize(context.Background(), path, remote.Options{})
	if ok || !errors.Is(err, services.ErrRemoteFailure) {
		t.Fatalf("expected remote failure, got ok=%v err=%v", ok, err)
	}
	if called {
		t.Fatal("expected no request for unmappable path")
	}
}

func TestMissingFileIsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	provider := remote.NewProvider(cfg, http.DefaultClient, nil)
	ok, err := provider.Optimize(context.Background(), testsupport.MediaPath(cfg, "gone.jpg"), remote.Options{})
	if ok || !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got ok=%v err=%v", ok, err)
	}
}

func TestTinyPNGUploadsAndDownloads(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(c *config.Config) {
		c.Remote.Service = config.ServiceTinyPNG
		c.Remote.TinyPNGAPIKey = "secret"
	}))
	path := testsupport.MediaPath(cfg, "logo.png")
	testsupport.WriteFile(t, path, 3000)
	optimized := bytes.Repeat([]byte{0x02}, 500)

	var uploaded int
	mux := http.NewServeMux()
	mux.HandleFunc("/shrink", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "api" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		uploaded = len(body)
		w.Header().Set("Location", "http://"+r.Host+"/output/abc")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"input":{"size":3000},"output":{"size":500}}`)
	})
	mux.HandleFunc("/output/abc", func(w http.ResponseWriter, r *http.Request) {
		if _, pass, ok := r.BasicAuth(); !ok || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(optimized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	cfg.Remote.TinyPNGEndpoint = server.URL + "/shrink"

	provider := remote.NewProvider(cfg, server.Client(), nil)
	if provider.ServiceName() != "TinyPNG" {
		t.Fatalf("expected TinyPNG, got %s", provider.ServiceName())
	}
	ok, err := provider.Optimize(context.Background(), path, remote.Options{})
	if err != nil || !ok {
		t.Fatalf("optimize: ok=%v err=%v", ok, err)
	}
	if uploaded != 3000 {
		t.Fatalf("expected 3000 uploaded bytes, got %d", uploaded)
	}
	assertSize(t, path, 500)
}

func TestTinyPNGUnauthorized(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(c *config.Config) {
		c.Remote.Service = config.ServiceTinyPNG
		c.Remote.TinyPNGAPIKey = "wrong"
	}))
	path := testsupport.MediaPath(cfg, "logo.png")
	testsupport.WriteFile(t, path, 3000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Unauthorized","message":"Credentials are invalid"}`)
	}))
	defer server.Close()
	cfg.Remote.TinyPNGEndpoint = server.URL

	ok, err := remote.NewProvider(cfg, server.Client(), nil).Optimize(context.Background(), path, remote.Options{})
	if ok || !errors.Is(err, services.ErrRemoteFailure) {
		t.Fatalf("expected remote failure, got ok=%v err=%v", ok, err)
	}
	assertSize(t, path, 3000)
}

func TestLargerDownloadKeepsOriginal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := testsupport.MediaPath(cfg, "tiny.jpg")
	testsupport.WriteFile(t, path, 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprintf(w, `{"dest":"http://%s/out"}`, r.Host)
			return
		}
		_, _ = w.Write(bytes.Repeat([]byte{0x03}, 400))
	}))
	defer server.Close()
	cfg.Remote.ReSmushItEndpoint = server.URL

	ok, err := remote.NewProvider(cfg, server.Client(), nil).Optimize(context.Background(), path, remote.Options{})
	if err != nil || !ok {
		t.Fatalf("expected success, got ok=%v err=%v", ok, err)
	}
	assertSize(t, path, 100)
}

func TestTinyPNGFallbackAndConnection(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithConfig(func(c *config.Config) {
		c.Remote.Service = config.ServiceTinyPNG
		c.Remote.TinyPNGAPIKey = ""
	}))
	provider := remote.NewProvider(cfg, http.DefaultClient, nil)
	if provider.ServiceName() != "reSmush.it" {
		t.Fatalf("expected fallback to reSmush.it, got %s", provider.ServiceName())
	}
	if res := remote.TestConnection(provider); !res.OK {
		t.Fatalf("expected resmush.it ready, got %+v", res)
	}

	tiny := remote.NewTinyPNG("https://api.tinify.com/shrink", "", http.DefaultClient, 0, nil)
	res := remote.TestConnection(tiny)
	if res.OK || res.Message != "TinyPNG is not properly configured" {
		t.Fatalf("unexpected connection result %+v", res)
	}
	if res := remote.TestConnection(nil); res.OK {
		t.Fatal("expected nil provider to report not ok")
	}
}

func assertSize(t *testing.T, path string, want int64) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	if info.Size() != want {
		t.Fatalf("expected %s to be %d bytes, got %d", path, want, info.Size())
	}
}

func TestHungRemoteCallTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	const timeout = 500 * time.Millisecond
	cfg := testsupport.NewConfig(t)
	mapper := remote.NewPublicURLMapper(cfg.Paths.MediaRoot, cfg.Remote.PublicBaseURL)
	providers := []remote.Provider{
		remote.NewReSmushIt(server.URL+"/ws.php", mapper, server.Client(), timeout, nil),
		remote.NewTinyPNG(server.URL+"/shrink", "key", server.Client(), timeout, nil),
	}

	for _, provider := range providers {
		t.Run(provider.ServiceName(), func(t *testing.T) {
			path := testsupport.MediaPath(cfg, "hung.jpg")
			testsupport.WriteFile(t, path, 2048)
			before, _ := os.ReadFile(path)

			start := time.Now()
			ok, err := provider.Optimize(context.Background(), path, remote.Options{Quality: 80})
			elapsed := time.Since(start)
			if ok || !errors.Is(err, services.ErrRemoteFailure) {
				t.Fatalf("expected remote failure, ok=%v err=%v", ok, err)
			}
			if elapsed > 5*time.Second {
				t.Fatalf("call outlived its budget: %s", elapsed)
			}
			after, _ := os.ReadFile(path)
			if !bytes.Equal(before, after) {
				t.Fatal("file modified by a timed-out call")
			}
		})
	}
}
