package utils

import (
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestDownloadFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/plain":
			_, _ = w.Write([]byte("payload"))
		case "/compressed.gz":
			gz := gzip.NewWriter(w)
			_, _ = gz.Write([]byte("unzipped payload"))
			_ = gz.Close()
		case "/missing":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	tmpDir, err := os.MkdirTemp("", "download-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "plain.txt")
	if err := DownloadFile(server.URL+"/plain", path); err != nil {
		t.Fatalf("DownloadFile failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "payload" {
		t.Errorf("Expected downloaded payload, got %q", data)
	}

	gzPath := filepath.Join(tmpDir, "file.mmdb")
	if err := DownloadFile(server.URL+"/compressed.gz", gzPath); err != nil {
		t.Fatalf("DownloadFile gz failed: %v", err)
	}
	data, _ = os.ReadFile(gzPath)
	if string(data) != "unzipped payload" {
		t.Errorf("Expected transparently decompressed payload, got %q", data)
	}

	if err := DownloadFile(server.URL+"/missing", filepath.Join(tmpDir, "x")); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound for a 404, got %v", err)
	}
	if err := DownloadFile(server.URL+"/boom", filepath.Join(tmpDir, "y")); err == nil {
		t.Error("Expected an error for a server failure")
	}
}

func TestEnsureFileSkipsExisting(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "ensure-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "existing")
	if err := os.WriteFile(path, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	// The URL is bogus; an existing file must short-circuit the download.
	if err := EnsureFile("http://invalid.invalid/file", path); err != nil {
		t.Errorf("Expected existing file to skip the download, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "keep me" {
		t.Errorf("Expected file untouched, got %q", data)
	}

	if err := EnsureFile("", filepath.Join(tmpDir, "missing")); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound with no URL, got %v", err)
	}
}
