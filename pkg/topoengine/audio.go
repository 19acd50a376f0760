package topoengine

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dhowden/tag"
	"github.com/hajimehoshi/ebiten/v2/audio"
	mp3 "github.com/hajimehoshi/go-mp3"
)

// AudioMetadataCallback receives the current track's title and artist.
type AudioMetadataCallback func(song, artist string)

// AudioPlayer loops a random playlist of MP3 files from a directory, with a
// fade-out at track end and on shutdown. Entirely optional ambience; the
// engine works the same with no player attached.
type AudioPlayer struct {
	MusicDir   string
	OnMetadata AudioMetadataCallback
	Logger     *log.Logger

	audioContext *audio.Context

	mu         sync.Mutex
	current    *audio.Player
	paused     bool
	isStopping bool

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

func NewAudioPlayer(musicDir string) *AudioPlayer {
	return &AudioPlayer{
		MusicDir:    musicDir,
		Logger:      log.Default(),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Shutdown fades out the current track and blocks until playback stopped.
func (p *AudioPlayer) Shutdown() {
	p.mu.Lock()
	p.isStopping = true
	p.mu.Unlock()
	close(p.stopChan)
	<-p.stoppedChan
	p.Logger.Info("audio player stopped")
}

// TogglePause pauses or resumes the current track.
func (p *AudioPlayer) TogglePause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = !p.paused
	if p.current == nil {
		return
	}
	if p.paused {
		p.current.Pause()
	} else {
		p.current.Play()
	}
}

func (p *AudioPlayer) Start() {
	go func() {
		defer close(p.stoppedChan)
		for {
			select {
			case <-p.stopChan:
				return
			default:
			}

			var tracks []string
			err := filepath.Walk(p.MusicDir, func(path string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), ".mp3") {
					tracks = append(tracks, path)
				}
				return nil
			})
			if err != nil || len(tracks) == 0 {
				if err != nil {
					p.Logger.Warn("reading music directory", "err", err)
				}
				select {
				case <-time.After(5 * time.Second):
				case <-p.stopChan:
					return
				}
				continue
			}

			path := tracks[rand.Intn(len(tracks))]
			if err := p.playTrack(path); err != nil {
				p.Logger.Warn("playing track", "path", path, "err", err)
				select {
				case <-time.After(5 * time.Second):
				case <-p.stopChan:
					return
				}
			}

			p.mu.Lock()
			stopping := p.isStopping
			p.mu.Unlock()
			if stopping {
				return
			}
		}
	}()
}

func (p *AudioPlayer) playTrack(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var artist, song string
	if m, err := tag.ReadFrom(f); err == nil {
		artist = m.Artist()
		song = m.Title()
	}
	if song == "" {
		// "Title - Artist.mp3" style filenames as a fallback.
		full := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		song = full
		if parts := strings.SplitN(full, " - ", 2); len(parts) == 2 {
			song, artist = parts[0], parts[1]
		}
	}
	if p.OnMetadata != nil {
		p.OnMetadata(song, artist)
	}

	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	d, err := mp3.NewDecoder(f)
	if err != nil {
		return err
	}

	if p.audioContext == nil {
		p.audioContext = audio.NewContext(44100)
	}
	player, err := p.audioContext.NewPlayer(d)
	if err != nil {
		return err
	}
	player.Play()
	p.mu.Lock()
	p.current = player
	if p.paused {
		player.Pause()
	}
	p.mu.Unlock()
	p.Logger.Info("playing", "path", path)

	fadeDuration := 5 * time.Second
	totalBytes := d.Length()
	duration := time.Duration(totalBytes) * time.Second / time.Duration(d.SampleRate()*4)
	startTime := time.Now()
	var stoppingAt time.Time
	for {
		p.mu.Lock()
		stopping := p.isStopping
		paused := p.paused
		p.mu.Unlock()

		if !paused && !player.IsPlaying() {
			break
		}
		if stopping && stoppingAt.IsZero() {
			stoppingAt = time.Now()
		}

		elapsed := time.Since(startTime)
		remaining := duration - elapsed
		vol := 1.0
		if remaining <= fadeDuration {
			vol = float64(remaining) / float64(fadeDuration)
		}
		if !stoppingAt.IsZero() {
			stopVol := 1.0 - float64(time.Since(stoppingAt))/float64(fadeDuration)
			if stopVol < vol {
				vol = stopVol
			}
			if stopVol <= 0 {
				break
			}
		}
		if vol < 0 {
			vol = 0
		}
		player.SetVolume(vol)

		if remaining <= 0 && !paused {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	return player.Close()
}
