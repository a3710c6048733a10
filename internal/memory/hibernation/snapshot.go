package hibernation

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

// FormField is one named form value captured from the page
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Snapshot is everything needed to bring a tab back.
// DOM and JSHeap are opaque blobs from the engine; a nil JSHeap means the
// engine had nothing to save, which is distinct from an empty one.
type Snapshot struct {
	TabID               id.TabID
	URL                 string
	Title               string
	ScrollX             float32
	ScrollY             float32
	FormData            []FormField
	DOM                 []byte
	JSHeap              []byte
	HibernatedAt        int64 // unix seconds
	OriginalMemoryBytes uint64
}

// Wire field numbers. Never renumber; add new fields at the end.
const (
	fieldTabID        protowire.Number = 1
	fieldURL          protowire.Number = 2
	fieldTitle        protowire.Number = 3
	fieldScrollX      protowire.Number = 4
	fieldScrollY      protowire.Number = 5
	fieldForm         protowire.Number = 6
	fieldDOM          protowire.Number = 7
	fieldJSHeap       protowire.Number = 8
	fieldHibernatedAt protowire.Number = 9
	fieldOriginalMem  protowire.Number = 10
	fieldFlags        protowire.Number = 11

	fieldFormName  protowire.Number = 1
	fieldFormValue protowire.Number = 2
)

const flagFormPresent uint64 = 1 << 0

// encodeSnapshot produces a deterministic binary encoding of s
func encodeSnapshot(s *Snapshot) []byte {
	size := 64 + len(s.URL) + len(s.Title) + len(s.DOM) + len(s.JSHeap)
	for _, f := range s.FormData {
		size += 8 + len(f.Name) + len(f.Value)
	}
	b := make([]byte, 0, size)

	b = protowire.AppendTag(b, fieldTabID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.TabID))
	b = protowire.AppendTag(b, fieldURL, protowire.BytesType)
	b = protowire.AppendString(b, s.URL)
	b = protowire.AppendTag(b, fieldTitle, protowire.BytesType)
	b = protowire.AppendString(b, s.Title)
	b = protowire.AppendTag(b, fieldScrollX, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(s.ScrollX))
	b = protowire.AppendTag(b, fieldScrollY, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(s.ScrollY))

	for _, f := range s.FormData {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldFormName, protowire.BytesType)
		entry = protowire.AppendString(entry, f.Name)
		entry = protowire.AppendTag(entry, fieldFormValue, protowire.BytesType)
		entry = protowire.AppendString(entry, f.Value)

		b = protowire.AppendTag(b, fieldForm, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	if s.DOM != nil {
		b = protowire.AppendTag(b, fieldDOM, protowire.BytesType)
		b = protowire.AppendBytes(b, s.DOM)
	}
	if s.JSHeap != nil {
		b = protowire.AppendTag(b, fieldJSHeap, protowire.BytesType)
		b = protowire.AppendBytes(b, s.JSHeap)
	}

	b = protowire.AppendTag(b, fieldHibernatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.HibernatedAt))
	b = protowire.AppendTag(b, fieldOriginalMem, protowire.VarintType)
	b = protowire.AppendVarint(b, s.OriginalMemoryBytes)

	var flags uint64
	if s.FormData != nil {
		flags |= flagFormPresent
	}
	b = protowire.AppendTag(b, fieldFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, flags)

	return b
}

// decodeSnapshot reverses encodeSnapshot. Unknown fields are skipped.
func decodeSnapshot(b []byte) (*Snapshot, error) {
	s := &Snapshot{}
	var flags uint64

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireError("tag", n)
		}
		b = b[n:]

		switch {
		case num == fieldTabID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, wireError("tab_id", n)
			}
			s.TabID = id.TabID(v)
			b = b[n:]
		case num == fieldURL && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, wireError("url", n)
			}
			s.URL = v
			b = b[n:]
		case num == fieldTitle && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, wireError("title", n)
			}
			s.Title = v
			b = b[n:]
		case num == fieldScrollX && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, wireError("scroll_x", n)
			}
			s.ScrollX = math.Float32frombits(v)
			b = b[n:]
		case num == fieldScrollY && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, wireError("scroll_y", n)
			}
			s.ScrollY = math.Float32frombits(v)
			b = b[n:]
		case num == fieldForm && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wireError("form_data", n)
			}
			f, err := decodeFormField(v)
			if err != nil {
				return nil, err
			}
			s.FormData = append(s.FormData, f)
			b = b[n:]
		case num == fieldDOM && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wireError("dom", n)
			}
			s.DOM = append([]byte{}, v...)
			b = b[n:]
		case num == fieldJSHeap && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wireError("js_heap", n)
			}
			s.JSHeap = append([]byte{}, v...)
			b = b[n:]
		case num == fieldHibernatedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, wireError("hibernated_at", n)
			}
			s.HibernatedAt = protowire.DecodeZigZag(v)
			b = b[n:]
		case num == fieldOriginalMem && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, wireError("original_memory_bytes", n)
			}
			s.OriginalMemoryBytes = v
			b = b[n:]
		case num == fieldFlags && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, wireError("flags", n)
			}
			flags = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, wireError(fmt.Sprintf("field %d", num), n)
			}
			b = b[n:]
		}
	}

	if flags&flagFormPresent != 0 && s.FormData == nil {
		s.FormData = []FormField{}
	}
	return s, nil
}

func decodeFormField(b []byte) (FormField, error) {
	var f FormField
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, wireError("form tag", n)
		}
		b = b[n:]

		if typ == protowire.BytesType && (num == fieldFormName || num == fieldFormValue) {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return f, wireError("form value", n)
			}
			if num == fieldFormName {
				f.Name = v
			} else {
				f.Value = v
			}
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return f, wireError("form field", n)
		}
		b = b[n:]
	}
	return f, nil
}

func wireError(field string, n int) error {
	return fmt.Errorf("%w: %s: %w", ErrSerialization, field, protowire.ParseError(n))
}
