package hibernation

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

const (
	Magic         = "FOSWB_HB"
	FormatVersion = uint32(1)

	// HeaderSize is magic(8) + version(4) + tab_id(8) + uncompressed(8) + compressed(8) + crc32(4)
	HeaderSize = 40

	FileExtension = ".hib"
)

type header struct {
	Version          uint32
	TabID            id.TabID
	UncompressedSize uint64
	CompressedSize   uint64
	Checksum         uint32
}

func (h header) marshal() []byte {
	b := make([]byte, HeaderSize)
	copy(b[0:8], Magic)
	binary.LittleEndian.PutUint32(b[8:12], h.Version)
	binary.LittleEndian.PutUint64(b[12:20], uint64(h.TabID))
	binary.LittleEndian.PutUint64(b[20:28], h.UncompressedSize)
	binary.LittleEndian.PutUint64(b[28:36], h.CompressedSize)
	binary.LittleEndian.PutUint32(b[36:40], h.Checksum)
	return b
}

// parseHeader checks magic and version before trusting anything else
func parseHeader(b []byte) (header, error) {
	if len(b) < HeaderSize {
		return header{}, fmt.Errorf("%w: header is %d bytes", ErrInvalidFile, len(b))
	}
	if !bytes.Equal(b[0:8], []byte(Magic)) {
		return header{}, fmt.Errorf("%w: bad magic %q", ErrInvalidFile, b[0:8])
	}
	version := binary.LittleEndian.Uint32(b[8:12])
	if version != FormatVersion {
		return header{}, &VersionError{Expected: FormatVersion, Got: version}
	}
	return header{
		Version:          version,
		TabID:            id.TabID(binary.LittleEndian.Uint64(b[12:20])),
		UncompressedSize: binary.LittleEndian.Uint64(b[20:28]),
		CompressedSize:   binary.LittleEndian.Uint64(b[28:36]),
		Checksum:         binary.LittleEndian.Uint32(b[36:40]),
	}, nil
}
