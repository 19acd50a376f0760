package topoengine

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
)

// saveSnapshot dumps the composed scene to a timestamped PNG. The pixel
// copy happens on the game loop; encoding and file IO run on their own
// goroutine so the frame is never blocked.
func (e *Engine) saveSnapshot(img *ebiten.Image) {
	dir := e.snapshotDir
	if dir == "" {
		dir = "snapshots"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.logger.Error("creating snapshot directory", "err", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("topoflow-%s.png", time.Now().Format("20060102-150405")))

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	img.ReadPixels(rgba.Pix)

	logger := e.logger
	go func() {
		f, err := os.Create(path)
		if err != nil {
			logger.Error("creating snapshot file", "err", err)
			return
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Error("closing snapshot file", "err", err)
			}
		}()
		if err := png.Encode(f, rgba); err != nil {
			logger.Error("encoding snapshot", "err", err)
			return
		}
		logger.Info("saved snapshot", "path", path)
	}()
}
