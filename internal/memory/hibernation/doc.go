/*
Package hibernation stores tab snapshots on disk so their memory can be released.

# File Format

One file per tab, named <tab id>.hib:

	[8B magic "FOSWB_HB"][4B version LE][8B tab_id LE]
	[8B uncompressed_size LE][8B compressed_size LE][4B CRC32 LE][zstd payload]

The CRC32 (IEEE) covers the uncompressed encoded snapshot and is checked
after decompression, before the payload is decoded. Readers reject a bad magic
or version before trusting any other header field.

The snapshot itself is encoded with protobuf wire primitives, so the encoding
is deterministic and tolerant of fields added later.

# Durability

Writes go to a temp file in the same directory, are fsynced, and then renamed
over the final name. A crash mid-write leaves either the previous file or no
file, never a partial one. A failed Hydrate never touches the file.

# Errors

Every failure wraps one of the package sentinels (ErrIO, ErrCompression,
ErrSerialization, ErrInvalidFile, ErrVersionMismatch, ErrTabNotFound,
ErrQuotaExceeded), so callers can branch with errors.Is.
*/
package hibernation
