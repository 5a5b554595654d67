// Package platform defines the contract between the dispatcher and
// the platform-specific upload adapters, plus the routing registry
// that maps an entry's platform key to an adapter.
package platform

import (
	"context"
	"fmt"
	"sync"
)

// Job is the payload handed to an uploader: the schedule entry's ids
// and its metadata blob. Uploaders read the agreed keys (video_path,
// thumbnail_path, caption, ...) out of Meta.
type Job struct {
	ProjectID int64
	EntryID   int64
	Meta      map[string]string
}

// Uploader performs one platform-specific upload and returns the
// platform-assigned identifier. Implementations log but do not retry;
// retry policy belongs to the execution facility.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, job Job) (string, error)
}

// PrecondKind distinguishes the ways a job can be rejected before any
// bytes are transferred.
type PrecondKind int

const (
	PrecondCredentials PrecondKind = iota // missing or unusable credentials
	PrecondAsset                         // missing or unreadable local asset
	PrecondRequest                       // malformed or incomplete request data
)

func (k PrecondKind) String() string {
	switch k {
	case PrecondCredentials:
		return "missing credentials"
	case PrecondAsset:
		return "missing asset"
	case PrecondRequest:
		return "malformed request"
	}
	return "precondition"
}

// PrecondError is a structured precondition failure. Dispatch treats
// it as permanent: the entry is marked failed without retries.
type PrecondError struct {
	Kind PrecondKind
	Msg  string
}

func (e *PrecondError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func Precondf(kind PrecondKind, format string, args ...any) error {
	return &PrecondError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Registry routes a platform name to its uploader. The dispatcher
// treats the name purely as a routing key.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Uploader
}

func NewRegistry(uploaders ...Uploader) *Registry {
	r := &Registry{m: map[string]Uploader{}}
	for _, u := range uploaders {
		r.Register(u)
	}
	return r
}

func (r *Registry) Register(u Uploader) {
	r.mu.Lock()
	r.m[u.Name()] = u
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Uploader, bool) {
	r.mu.RLock()
	u, ok := r.m[name]
	r.mu.RUnlock()
	return u, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.m))
	for n := range r.m {
		names = append(names, n)
	}
	return names
}
