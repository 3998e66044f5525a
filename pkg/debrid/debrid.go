// Package debrid turns content-hash references into servable addresses
// through an asynchronous unblocking service.
package debrid

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"hashland/pkg/logger"
)

var (
	ErrSubmissionRejected = errors.New("debrid submission rejected")
	ErrTimeout            = errors.New("debrid task did not complete in time")
	ErrNoPlayableFile     = errors.New("debrid task has no playable file")
)

// File is one file of a completed task. Link is empty until the service
// can serve it.
type File struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Link string `json:"link,omitempty"`
}

// Task is the state of one unblock operation.
type Task struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"` // 0-100
	Files    []File `json:"files,omitempty"`
}

// Ready reports whether polling can stop.
func (t *Task) Ready() bool {
	return t.Progress >= 100 || len(t.Files) > 0
}

// Service is an unblocking backend.
type Service interface {
	Submit(ctx context.Context, magnet string) (*Task, error)
	Status(ctx context.Context, id string) (*Task, error)
}

// Unrestricter is implemented by services whose file links must be exchanged
// for a direct download address.
type Unrestricter interface {
	Unrestrict(ctx context.Context, link string) (string, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default context-aware SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Unblocker submits a magnet and polls the task under a bounded attempt budget.
type Unblocker struct {
	Service     Service
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

// NewUnblocker creates an Unblocker with the default sleeper.
func NewUnblocker(svc Service, interval time.Duration, maxAttempts int) *Unblocker {
	return &Unblocker{
		Service:     svc,
		Interval:    interval,
		MaxAttempts: maxAttempts,
		Sleep:       Sleep,
	}
}

// Unblock returns a servable address for magnet.
func (u *Unblocker) Unblock(ctx context.Context, magnet string) (string, error) {
	task, err := u.Service.Submit(ctx, magnet)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, ErrSubmissionRejected) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
	}
	if task == nil || task.ID == "" {
		return "", ErrSubmissionRejected
	}
	logger.Debug("Debrid task submitted", "id", task.ID, "progress", task.Progress)

	sleep := u.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	id := task.ID
	for attempt := 0; !task.Ready(); attempt++ {
		if attempt >= u.MaxAttempts {
			logger.Debug("Debrid poll budget exhausted", "id", id, "attempts", attempt, "progress", task.Progress)
			return "", ErrTimeout
		}
		if err := sleep(ctx, u.Interval); err != nil {
			return "", err
		}
		next, err := u.Service.Status(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			logger.Warn("Debrid status check failed", "id", id, "attempt", attempt+1, "err", err)
			continue
		}
		if next != nil {
			task = next
		}
	}

	file, err := SelectFile(task.Files)
	if err != nil {
		return "", err
	}
	logger.Debug("Debrid file selected", "id", id, "name", file.Name, "size", file.Size)

	if un, ok := u.Service.(Unrestricter); ok {
		link, err := un.Unrestrict(ctx, file.Link)
		if err != nil {
			return "", fmt.Errorf("unrestrict %s: %w", file.Name, err)
		}
		return link, nil
	}
	return file.Link, nil
}

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true,
	".wmv": true, ".m4v": true, ".webm": true, ".ts": true,
	".m2ts": true, ".mpg": true, ".mpeg": true, ".flv": true,
}

// IsVideo reports whether name ends in a known video extension.
func IsVideo(name string) bool {
	return videoExtensions[strings.ToLower(path.Ext(name))]
}

// SelectFile picks the largest video among files with a link, else the
// largest linked file. Ties keep the earlier file.
func SelectFile(files []File) (File, error) {
	var best, bestVideo *File
	for i := range files {
		f := &files[i]
		if f.Link == "" {
			continue
		}
		if best == nil || f.Size > best.Size {
			best = f
		}
		if IsVideo(f.Name) && (bestVideo == nil || f.Size > bestVideo.Size) {
			bestVideo = f
		}
	}
	if bestVideo != nil {
		return *bestVideo, nil
	}
	if best != nil {
		return *best, nil
	}
	return File{}, ErrNoPlayableFile
}
