package utils

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

var ErrNotFound = errors.New("file not found on server")

type progressWriter struct {
	io.Writer
	total uint64
	last  uint64
	label string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.total += uint64(n)
	if pw.total-pw.last > 5*1024*1024 { // Log every 5MB
		log.Infof("%s: downloaded %d MB", pw.label, pw.total/1024/1024)
		pw.last = pw.total
	}
	return n, err
}

// DownloadFile downloads a URL to a local path safely: the payload lands in
// a temp file in the target directory and is renamed into place. A .gz URL
// is decompressed transparently.
func DownloadFile(url, path string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warnf("error closing response body: %v", err)
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if strings.HasSuffix(url, ".gz") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	// Create a temp file in the same directory to ensure atomic move
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			log.Warnf("error removing temp file %s: %v", tmpName, err)
		}
	}() // Clean up if we fail

	pw := &progressWriter{Writer: tmpFile, label: filepath.Base(path)}
	if _, err := io.Copy(pw, body); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final path
	return os.Rename(tmpName, path)
}

// EnsureFile downloads url to path unless the file already exists.
func EnsureFile(url, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if url == "" {
		return ErrNotFound
	}
	log.Infof("fetching %s", filepath.Base(path))
	return DownloadFile(url, path)
}
