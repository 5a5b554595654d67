// Package status defines the publication status lifecycle and the
// metadata keys shared between the schedule store, the dispatcher and
// the platform uploaders.
package status

// Status is the lifecycle state of a schedule entry.
type Status string

const (
	// Queued is the implicit initial state. An entry that never had its
	// status recorded reads as Queued.
	Queued Status = "queued"
	// Uploaded is the terminal success state.
	Uploaded Status = "uploaded"
	// Failed is the terminal failure state. A failed entry stays failed
	// until an operator re-schedules it.
	Failed Status = "failed"
)

// Metadata keys interpreted by the dispatcher and uploaders. The store
// itself treats entry metadata as an opaque blob; these are the agreed
// channel between the components that do interpret it.
const (
	KeyStatus        = "status"
	KeyPlatform      = "platform"
	KeyVideoPath     = "video_path"
	KeyThumbnailPath = "thumbnail_path"
	KeyCaption       = "caption"
	KeyTitle         = "title"
	KeyDescription   = "description"
	KeyPlatformID    = "platform_id"
)

// Valid reports whether s is one of the closed set of states.
func (s Status) Valid() bool {
	switch s {
	case Queued, Uploaded, Failed:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return s == Uploaded || s == Failed }

// CanTransition reports whether from -> to is an intended transition.
// The store itself does not enforce this (status writes are
// last-write-wins); callers consult it to detect overwrites of a
// terminal state.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return from == Queued && to.Terminal()
}
