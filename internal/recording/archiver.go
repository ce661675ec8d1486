package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ChannelRecording identifies the audio artifact of a hung-up channel.
// The file path arrives via the MIXMONITOR_FILENAME variable during the call.
type ChannelRecording struct {
	CallUniqueID string
	UniqueID     string
	ChannelName  string
	FilePath     string
}

// Archiver locates and stores a channel's audio artifact out of band.
// Invoked on hangup when call recording is enabled; failures are logged by
// the caller, never propagated into event processing.
type Archiver interface {
	SaveCallRecording(ctx context.Context, rec ChannelRecording) error
}

// Noop discards recordings.
type Noop struct{}

func (Noop) SaveCallRecording(ctx context.Context, rec ChannelRecording) error { return nil }

var ErrNoRecording = errors.New("recording: channel has no recording file")

// FileArchiver moves finished recordings from the monitor spool into an
// archive directory, grouped by call.
type FileArchiver struct {
	ArchiveDir string
	Log        *slog.Logger
}

func NewFileArchiver(dir string, log *slog.Logger) *FileArchiver {
	if log == nil {
		log = slog.Default()
	}
	return &FileArchiver{ArchiveDir: dir, Log: log}
}

func (a *FileArchiver) SaveCallRecording(ctx context.Context, rec ChannelRecording) error {
	if rec.FilePath == "" {
		return ErrNoRecording
	}
	if _, err := os.Stat(rec.FilePath); err != nil {
		return fmt.Errorf("recording: stat %s: %w", rec.FilePath, err)
	}
	destDir := filepath.Join(a.ArchiveDir, rec.CallUniqueID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("recording: mkdir %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(rec.FilePath))
	if err := os.Rename(rec.FilePath, dest); err != nil {
		return fmt.Errorf("recording: archive %s: %w", rec.FilePath, err)
	}
	a.Log.Info("recording archived", "call", rec.CallUniqueID, "file", dest)
	return nil
}
