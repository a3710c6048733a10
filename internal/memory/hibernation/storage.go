package hibernation

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tabcore/internal/shared/id"
)

const (
	MinCompressionLevel = 1
	MaxCompressionLevel = 22

	// maxSnapshotBytes bounds what a header may claim before we allocate for it
	maxSnapshotBytes = 1 << 30

	filePattern = "*" + FileExtension
	tempPattern = "*" + FileExtension + ".*.tmp"
)

// Config controls where and how snapshots are written
type Config struct {
	Dir              string
	CompressionLevel int
	MaxAge           time.Duration
	MaxStorageBytes  int64 // zero disables the quota
}

// DefaultConfig returns level 3, seven days retention and a 1 GiB quota
func DefaultConfig() Config {
	return Config{
		Dir:              filepath.Join(os.TempDir(), "tabcore", "hibernation"),
		CompressionLevel: 3,
		MaxAge:           7 * 24 * time.Hour,
		MaxStorageBytes:  1 << 30,
	}
}

// Validate checks the config
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("%w: storage dir is empty", ErrInvalidConfig)
	}
	if c.CompressionLevel < MinCompressionLevel || c.CompressionLevel > MaxCompressionLevel {
		return fmt.Errorf("%w: compression level %d outside %d..%d",
			ErrInvalidConfig, c.CompressionLevel, MinCompressionLevel, MaxCompressionLevel)
	}
	if c.MaxStorageBytes < 0 {
		return fmt.Errorf("%w: negative storage quota", ErrInvalidConfig)
	}
	return nil
}

// Info describes a hibernation file without decoding its payload
type Info struct {
	TabID            id.TabID  `json:"tab_id"`
	Version          uint32    `json:"version"`
	UncompressedSize uint64    `json:"uncompressed_size"`
	CompressedSize   uint64    `json:"compressed_size"`
	Checksum         uint32    `json:"checksum"`
	FileSize         int64     `json:"file_size"`
	ModTime          time.Time `json:"mod_time"`
}

// Storage persists tab snapshots as compressed, checksummed files.
// Calls for the same tab are serialized; different tabs proceed in parallel.
type Storage struct {
	cfg    Config
	logger *zap.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	locks   [lockStripes]sync.Mutex
	quotaMu sync.Mutex
}

// Option configures a Storage
type Option func(*Storage)

// WithLogger attaches a logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Storage) {
		if l != nil {
			s.logger = l
		}
	}
}

// New validates cfg, creates the storage directory and prepares the codecs
func New(cfg Config, opts ...Option) (*Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, ioError("create storage dir", err)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)),
		zstd.WithEncoderCRC(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompression, err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxSnapshotBytes))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("%w: %w", ErrCompression, err)
	}

	s := &Storage{
		cfg:    cfg,
		logger: zap.NewNop(),
		enc:    enc,
		dec:    dec,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the storage configuration
func (s *Storage) Config() Config {
	return s.cfg
}

// Close releases the codecs
func (s *Storage) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// Path returns the file a tab's snapshot lives in
func (s *Storage) Path(tabID id.TabID) string {
	return filepath.Join(s.cfg.Dir, tabID.String()+FileExtension)
}

// lockStripes bounds per-tab locking state no matter how many tabs come and go.
// No operation holds two tab locks at once, so sharing a stripe cannot deadlock.
const lockStripes = 64

func (s *Storage) stripe(tabID id.TabID) *sync.Mutex {
	return &s.locks[uint64(tabID)%lockStripes]
}

func (s *Storage) lock(tabID id.TabID) func() {
	mu := s.stripe(tabID)
	mu.Lock()
	return mu.Unlock
}

// Hibernate writes snap and returns the compressed payload size.
// The final file only ever appears fully written.
func (s *Storage) Hibernate(ctx context.Context, snap *Snapshot) (uint64, error) {
	if snap == nil {
		return 0, fmt.Errorf("%w: nil snapshot", ErrSerialization)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	unlock := s.lock(snap.TabID)
	defer unlock()

	raw := encodeSnapshot(snap)
	if len(raw) > maxSnapshotBytes {
		return 0, fmt.Errorf("%w: snapshot is %d bytes", ErrSerialization, len(raw))
	}
	sum := crc32.ChecksumIEEE(raw)
	compressed := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2+64))

	hdr := header{
		Version:          FormatVersion,
		TabID:            snap.TabID,
		UncompressedSize: uint64(len(raw)),
		CompressedSize:   uint64(len(compressed)),
		Checksum:         sum,
	}

	if s.cfg.MaxStorageBytes > 0 {
		s.quotaMu.Lock()
		defer s.quotaMu.Unlock()

		used, err := s.usageExcluding(ctx, snap.TabID)
		if err != nil {
			return 0, err
		}
		need := int64(HeaderSize + len(compressed))
		if used+need > s.cfg.MaxStorageBytes {
			return 0, fmt.Errorf("%w: need %d bytes, %d of %d in use",
				ErrQuotaExceeded, need, used, s.cfg.MaxStorageBytes)
		}
	}

	if err := s.writeAtomic(snap.TabID, hdr.marshal(), compressed); err != nil {
		return 0, err
	}

	s.logger.Debug("tab hibernated",
		zap.Uint64("tab_id", uint64(snap.TabID)),
		zap.Int("uncompressed", len(raw)),
		zap.Int("compressed", len(compressed)))
	return uint64(len(compressed)), nil
}

func (s *Storage) writeAtomic(tabID id.TabID, hdr, payload []byte) (err error) {
	tmp, err := os.CreateTemp(s.cfg.Dir, tabID.String()+FileExtension+".*.tmp")
	if err != nil {
		return ioError("create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(hdr); err != nil {
		return ioError("write header", err)
	}
	if _, err = tmp.Write(payload); err != nil {
		return ioError("write payload", err)
	}
	if err = tmp.Sync(); err != nil {
		return ioError("sync temp file", err)
	}
	if err = tmp.Close(); err != nil {
		return ioError("close temp file", err)
	}
	if err = os.Rename(tmpName, s.Path(tabID)); err != nil {
		return ioError("replace hibernation file", err)
	}
	return nil
}

// Hydrate reads and verifies a snapshot. The file is never modified.
func (s *Storage) Hydrate(ctx context.Context, tabID id.TabID) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unlock := s.lock(tabID)
	defer unlock()

	f, err := os.Open(s.Path(tabID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
		}
		return nil, ioError("open", err)
	}
	defer f.Close()

	hdr, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	if hdr.TabID != tabID {
		return nil, fmt.Errorf("%w: file for tab %s holds tab %s", ErrInvalidFile, tabID, hdr.TabID)
	}
	if hdr.CompressedSize > maxSnapshotBytes || hdr.UncompressedSize > maxSnapshotBytes {
		return nil, fmt.Errorf("%w: implausible sizes %d/%d",
			ErrInvalidFile, hdr.CompressedSize, hdr.UncompressedSize)
	}

	payload := make([]byte, hdr.CompressedSize)
	if _, err := io.ReadFull(f, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: payload truncated", ErrInvalidFile)
		}
		return nil, ioError("read payload", err)
	}
	var extra [1]byte
	if n, _ := f.Read(extra[:]); n > 0 {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrInvalidFile)
	}

	raw, err := s.dec.DecodeAll(payload, make([]byte, 0, hdr.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCompression, err)
	}
	if uint64(len(raw)) != hdr.UncompressedSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, header says %d",
			ErrInvalidFile, len(raw), hdr.UncompressedSize)
	}
	if sum := crc32.ChecksumIEEE(raw); sum != hdr.Checksum {
		return nil, fmt.Errorf("%w: checksum %08x, header says %08x", ErrInvalidFile, sum, hdr.Checksum)
	}

	snap, err := decodeSnapshot(raw)
	if err != nil {
		return nil, err
	}
	if snap.TabID != tabID {
		return nil, fmt.Errorf("%w: payload holds tab %s", ErrInvalidFile, snap.TabID)
	}
	return snap, nil
}

func readHeader(r io.Reader) (header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return header{}, fmt.Errorf("%w: truncated header", ErrInvalidFile)
		}
		return header{}, ioError("read header", err)
	}
	return parseHeader(buf)
}

// IsHibernated reports whether a snapshot file exists for the tab
func (s *Storage) IsHibernated(tabID id.TabID) bool {
	info, err := os.Stat(s.Path(tabID))
	return err == nil && info.Mode().IsRegular()
}

// Delete removes a tab's snapshot. Deleting a missing file is not an error.
func (s *Storage) Delete(tabID id.TabID) error {
	unlock := s.lock(tabID)
	defer unlock()

	if err := os.Remove(s.Path(tabID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("delete", err)
	}
	return nil
}

// Info returns header metadata for a tab's file
func (s *Storage) Info(tabID id.TabID) (Info, error) {
	unlock := s.lock(tabID)
	defer unlock()

	f, err := os.Open(s.Path(tabID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("%w: %s", ErrTabNotFound, tabID)
		}
		return Info{}, ioError("open", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, ioError("stat", err)
	}
	hdr, err := readHeader(f)
	if err != nil {
		return Info{}, err
	}
	return Info{
		TabID:            hdr.TabID,
		Version:          hdr.Version,
		UncompressedSize: hdr.UncompressedSize,
		CompressedSize:   hdr.CompressedSize,
		Checksum:         hdr.Checksum,
		FileSize:         st.Size(),
		ModTime:          st.ModTime(),
	}, nil
}

type entry struct {
	tabID   id.TabID
	path    string
	size    int64
	modTime time.Time
	temp    bool
}

// scan walks the storage dir and collects snapshot and orphaned temp files
func (s *Storage) scan(ctx context.Context) ([]entry, error) {
	var (
		mu      sync.Mutex
		entries []entry
	)

	root := filepath.Clean(s.cfg.Dir)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if filepath.Clean(p) == root {
				return nil
			}
			return filepath.SkipDir
		}

		name := d.Name()
		isSnapshot, _ := doublestar.Match(filePattern, name)
		isTemp, _ := doublestar.Match(tempPattern, name)
		if !isSnapshot && !isTemp {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		e := entry{path: p, size: info.Size(), modTime: info.ModTime(), temp: isTemp}
		if isSnapshot {
			tabID, err := id.ParseTabID(strings.TrimSuffix(name, FileExtension))
			if err != nil {
				return nil
			}
			e.tabID = tabID
		}

		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, ioError("scan storage dir", err)
	}
	return entries, nil
}

// ListHibernated returns the ids that have a snapshot file, ascending
func (s *Storage) ListHibernated(ctx context.Context) ([]id.TabID, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]id.TabID, 0, len(entries))
	for _, e := range entries {
		if !e.temp {
			ids = append(ids, e.tabID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// TotalStorageBytes sums the size of every snapshot file
func (s *Storage) TotalStorageBytes(ctx context.Context) (int64, error) {
	return s.usageExcluding(ctx, 0)
}

func (s *Storage) usageExcluding(ctx context.Context, skip id.TabID) (int64, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.temp || (skip != 0 && e.tabID == skip) {
			continue
		}
		total += e.size
	}
	return total, nil
}

// CleanupOld removes snapshots and leftover temp files older than maxAge.
// A zero maxAge falls back to the configured retention.
func (s *Storage) CleanupOld(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = s.cfg.MaxAge
	}
	entries, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.modTime.Before(cutoff) {
			continue
		}
		if e.temp {
			if err := os.Remove(e.path); err == nil {
				removed++
			}
			continue
		}
		if err := s.Delete(e.tabID); err != nil {
			s.logger.Warn("failed to remove expired snapshot",
				zap.Uint64("tab_id", uint64(e.tabID)), zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("removed expired hibernation files", zap.Int("count", removed))
	}
	return removed, nil
}
