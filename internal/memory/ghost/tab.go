// Package ghost holds the lightweight stand-ins shown for hibernated tabs.
package ghost

import (
	"time"
	"unsafe"

	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// Metadata is what the UI needs to draw a hibernated tab
type Metadata struct {
	TabID       id.TabID  `json:"tab_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	FaviconURL  string    `json:"favicon_url,omitempty"`
	FaviconData []byte    `json:"-"`
	GhostedAt   time.Time `json:"ghosted_at"`
}

// Tab is a placeholder for a tab whose live context was torn down
type Tab struct {
	meta       Metadata
	bitmap     *Bitmap
	hibernated bool
}

// New creates a ghost from metadata. GhostedAt defaults to now.
func New(meta Metadata) *Tab {
	if meta.GhostedAt.IsZero() {
		meta.GhostedAt = time.Now()
	}
	return &Tab{meta: meta, hibernated: true}
}

// WithBitmap attaches a thumbnail
func (t *Tab) WithBitmap(b *Bitmap) *Tab {
	t.bitmap = b
	return t
}

// Metadata returns a copy of the ghost's metadata
func (t *Tab) Metadata() Metadata {
	m := t.meta
	if m.FaviconData != nil {
		m.FaviconData = append([]byte(nil), m.FaviconData...)
	}
	return m
}

func (t *Tab) TabID() id.TabID { return t.meta.TabID }
func (t *Tab) Title() string   { return t.meta.Title }
func (t *Tab) URL() string     { return t.meta.URL }

// Bitmap returns the thumbnail, or nil
func (t *Tab) Bitmap() *Bitmap {
	return t.bitmap
}

// Hibernated reports whether the tab's state sits in cold storage
func (t *Tab) Hibernated() bool {
	return t.hibernated
}

// SetHibernated records whether a snapshot backs this ghost
func (t *Tab) SetHibernated(v bool) {
	t.hibernated = v
}

// MemoryUsage estimates the bytes this ghost keeps resident
func (t *Tab) MemoryUsage() int {
	n := int(unsafe.Sizeof(*t))
	n += len(t.meta.Title) + len(t.meta.URL) + len(t.meta.FaviconURL)
	n += len(t.meta.FaviconData)
	if t.bitmap != nil {
		n += int(unsafe.Sizeof(*t.bitmap)) + t.bitmap.Size()
	}
	return n
}
