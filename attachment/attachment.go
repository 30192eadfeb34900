// Package attachment implements the attachment orchestrator: uploading one
// or more locations, streaming per-location progress events, and resolving
// name collisions before handing the finished references back as a normal
// Attachment-type message for the caller to insert and publish.
package attachment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dagmesh/convocore/capability"
	"github.com/dagmesh/convocore/chaterr"
	"github.com/dagmesh/convocore/envelope"
)

const (
	// MinLocations and MaxLocations bound attach's location count.
	MinLocations = 1
	MaxLocations = 32
	// MaxRenameAttempts bounds the collision-avoidance loop.
	MaxRenameAttempts = 2000
)

// LocationKind distinguishes the three ways attach can be pointed at bytes.
type LocationKind int

const (
	// Constellation references a file that already exists in the store;
	// no upload is performed.
	Constellation LocationKind = iota
	// Disk reads a file from the local filesystem and uploads it.
	Disk
	// Stream reads an opaque byte source and uploads it under a caller-
	// supplied name and size.
	Stream
)

// Location is one input to attach.
type Location struct {
	Kind LocationKind
	// Path is used by Constellation (the existing store path) and Disk
	// (the local filesystem path).
	Path string
	// Name and Size are used by Stream; Stream is an opaque byte source.
	// Constellation also reports Size as the referenced file's size.
	Name   string
	Size   int64
	Stream io.Reader
}

// Kind of event on attach's returned stream.
type EventKind int

const (
	// AttachedProgress reports incremental progress for one location.
	AttachedProgress EventKind = iota
	// Pending reports that every location has resolved (success or
	// failure) and carries the final Result.
	Pending
)

// Progression mirrors capability.UploadEvent for one location's progress.
type Progression struct {
	Location     int
	Name         string
	BytesWritten int64
	TotalBytes   int64
}

// Result is attach's terminal outcome: the resolved attachment references
// ready to go into a message.Content.Attachments list, or the first error
// encountered across any location.
type Result struct {
	ReplyID     *uuid.UUID
	Attachments []envelope.ContentRef
	Err         error
}

// Event is one point on attach's returned stream.
type Event struct {
	Kind        EventKind
	Progression Progression
	Result      Result
}

// Attach opens a stream of AttachedProgress events per location, followed
// by one final Pending event once every location has resolved. replyID is
// carried through unchanged for the caller to thread onto the eventual
// message.
func Attach(ctx context.Context, replyID *uuid.UUID, locations []Location, files capability.Files) (<-chan Event, error) {
	if len(locations) < MinLocations || len(locations) > MaxLocations {
		return nil, chaterr.NewLengthError("attachment locations", len(locations), MinLocations, MaxLocations)
	}

	events := make(chan Event, len(locations)*4+1)

	go func() {
		defer close(events)

		refs := make([]envelope.ContentRef, len(locations))
		var mu sync.Mutex
		var firstErr error
		var wg sync.WaitGroup

		for i, loc := range locations {
			wg.Add(1)
			go func(index int, loc Location) {
				defer wg.Done()
				ref, err := attachOne(ctx, index, loc, files, events)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Attach",
						"location": index,
					}).WithError(err).Warn("attachment location failed")
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				refs[index] = ref
			}(i, loc)
		}
		wg.Wait()

		events <- Event{Kind: Pending, Result: Result{ReplyID: replyID, Attachments: refs, Err: firstErr}}
	}()

	return events, nil
}

func attachOne(ctx context.Context, index int, loc Location, files capability.Files, events chan<- Event) (envelope.ContentRef, error) {
	switch loc.Kind {
	case Constellation:
		return attachConstellation(index, loc, events)
	case Disk:
		return attachDisk(ctx, index, loc, files, events)
	case Stream:
		return attachStream(ctx, index, loc, files, events)
	default:
		return envelope.ContentRef{}, chaterr.ErrInvalidFile
	}
}

func attachConstellation(index int, loc Location, events chan<- Event) (envelope.ContentRef, error) {
	name := filepath.Base(loc.Path)
	events <- Event{Kind: AttachedProgress, Progression: Progression{
		Location: index, Name: name, BytesWritten: loc.Size, TotalBytes: loc.Size,
	}}
	return envelope.ContentRef{Name: name, Size: loc.Size}, nil
}

func attachDisk(ctx context.Context, index int, loc Location, files capability.Files, events chan<- Event) (envelope.ContentRef, error) {
	f, err := os.Open(loc.Path)
	if err != nil {
		return envelope.ContentRef{}, chaterr.ErrInvalidFile
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return envelope.ContentRef{}, chaterr.ErrInvalidFile
	}

	name, err := resolveName(ctx, filepath.Base(loc.Path), files)
	if err != nil {
		return envelope.ContentRef{}, err
	}

	uploadEvents, err := files.Upload(ctx, name, f)
	if err != nil {
		return envelope.ContentRef{}, err
	}
	return drainUpload(index, name, info.Size(), uploadEvents, events)
}

func attachStream(ctx context.Context, index int, loc Location, files capability.Files, events chan<- Event) (envelope.ContentRef, error) {
	if loc.Stream == nil {
		return envelope.ContentRef{}, chaterr.ErrInvalidFile
	}

	name, err := resolveName(ctx, loc.Name, files)
	if err != nil {
		return envelope.ContentRef{}, err
	}

	uploadEvents, err := files.Upload(ctx, name, loc.Stream)
	if err != nil {
		return envelope.ContentRef{}, err
	}
	return drainUpload(index, name, loc.Size, uploadEvents, events)
}

// resolveName runs the collision-avoidance loop: try name as-is, then
// "stem (1).ext", "stem (2).ext", ... up to MaxRenameAttempts times.
func resolveName(ctx context.Context, name string, files capability.Files) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name

	for attempt := 0; attempt <= MaxRenameAttempts; attempt++ {
		exists, err := files.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, attempt+1, ext)
	}
	return "", chaterr.ErrInvalidFile
}

func drainUpload(index int, name string, size int64, uploadEvents <-chan capability.UploadEvent, events chan<- Event) (envelope.ContentRef, error) {
	for ev := range uploadEvents {
		switch ev.Kind {
		case capability.UploadProgress, capability.UploadPending:
			events <- Event{Kind: AttachedProgress, Progression: Progression{
				Location: index, Name: name, BytesWritten: ev.BytesWritten, TotalBytes: ev.TotalBytes,
			}}
		case capability.UploadComplete:
			return envelope.ContentRef{Name: name, Size: size, ContentCID: ev.ContentCID}, nil
		case capability.UploadFailed:
			return envelope.ContentRef{}, ev.Err
		}
	}
	return envelope.ContentRef{}, chaterr.ErrInvalidFile
}
