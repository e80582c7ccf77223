package redolog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	segmentPrefix = "seg-"
	segmentSuffix = ".log"
	ackFileName   = "ack"
)

// Log is one persistent-QoS subscription's append-only on-disk history.
// A Log is not safe for concurrent use by multiple goroutines beyond
// the synchronization it does internally; callers normally own one Log
// per (subscriber, path) pair, matching the subscription engine's
// per-pair queue model.
type Log struct {
	mu  sync.Mutex
	dir string
	cfg Config

	logger *slog.Logger
	cipher *cipherBox

	segments []segmentInfo // oldest first
	cur      *os.File
	curBuf   *bufio.Writer
	curCount int
	curBytes int64

	nextLSN int64
	acked   int64
}

type segmentInfo struct {
	path     string
	firstLSN int64
}

// Open opens (creating if absent) the redo log rooted at dir, recovering
// from any partially-written tail and restoring the ack cursor. If key
// is non-nil, newly appended values are sealed with a ChaCha20-Poly1305
// AEAD derived from it (see DeriveKey), and existing encrypted records
// are decrypted with the same key.
func Open(dir string, cfg Config, key []byte, logger *slog.Logger) (*Log, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("redolog: create dir: %w", err)
	}

	l := &Log{
		dir:    dir,
		cfg:    cfg,
		logger: logger.With("component", "redolog", "dir", dir),
		acked:  -1,
	}
	if key != nil {
		cb, err := newCipherBox(key)
		if err != nil {
			return nil, err
		}
		l.cipher = cb
	}

	if err := l.recover(); err != nil {
		if !cfg.AutomaticRecovery {
			return nil, err
		}
		l.logger.Warn("redo log recovery reported an error, continuing with best-effort state", "error", err)
	}

	if err := l.restoreAck(); err != nil {
		l.logger.Warn("failed to restore ack marker, replaying from first available record", "error", err)
	}

	if err := l.openCurrentForAppend(); err != nil {
		return nil, err
	}
	return l, nil
}

// Append writes v as a new record and returns its assigned LSN.
func (l *Log) Append(v Record) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v.LSN = l.nextLSN

	var seal sealFunc
	if l.cipher != nil {
		seal = l.cipher.seal
	}
	frame, err := encodeFrame(v, seal)
	if err != nil {
		return 0, err
	}

	if err := l.maybeRotate(len(frame)); err != nil {
		return 0, err
	}
	if err := l.maybeEvictForDiskSpace(); err != nil {
		l.logger.Warn("disk space eviction check failed", "error", err)
	}

	if _, err := l.curBuf.Write(frame); err != nil {
		return 0, fmt.Errorf("redolog: write frame: %w", err)
	}
	if l.cfg.FlushAfterWrite {
		if err := l.flushLocked(); err != nil {
			return 0, err
		}
	}

	l.curCount++
	l.curBytes += int64(len(frame))
	l.nextLSN++
	return v.LSN, nil
}

func (l *Log) flushLocked() error {
	if err := l.curBuf.Flush(); err != nil {
		return fmt.Errorf("redolog: flush: %w", err)
	}
	if err := l.cur.Sync(); err != nil {
		return fmt.Errorf("redolog: fsync: %w", err)
	}
	return nil
}

// Flush forces buffered writes to disk. A no-op when flush_after_write
// is enabled, since every Append already does this.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// Acked returns the most recently committed ack cursor.
func (l *Log) Acked() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acked
}

// Ack records lsn as delivered and durably persists the cursor so a
// restart resumes replay after it, not from the start of the log.
func (l *Log) Ack(lsn int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lsn <= l.acked {
		return nil
	}
	l.acked = lsn

	tmp := filepath.Join(l.dir, ackFileName+".tmp")
	final := filepath.Join(l.dir, ackFileName)
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(lsn, 10)), 0o600); err != nil {
		return fmt.Errorf("redolog: write ack marker: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("redolog: commit ack marker: %w", err)
	}
	l.evictAcked()
	return nil
}

// PendingSince returns every record with LSN > since, oldest first, for
// replay to a newly (re)subscribed persistent-QoS subscriber.
func (l *Log) PendingSince(since int64) ([]Record, error) {
	l.mu.Lock()
	segments := append([]segmentInfo(nil), l.segments...)
	l.mu.Unlock()

	var out []Record
	for _, seg := range segments {
		recs, err := readSegment(seg.path, l.openFunc())
		if err != nil {
			return out, fmt.Errorf("redolog: read segment %s: %w", seg.path, err)
		}
		for _, r := range recs {
			if r.LSN > since {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// Close flushes and releases the current segment's file handle. It does
// not delete any on-disk state.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		return nil
	}
	if err := l.flushLocked(); err != nil {
		return err
	}
	err := l.cur.Close()
	l.cur = nil
	l.curBuf = nil
	return err
}

func (l *Log) openFunc() openFunc {
	if l.cipher == nil {
		return nil
	}
	return l.cipher.open
}

// maybeRotate starts a new segment if appending nextFrameLen bytes
// would exceed the current segment's entry or size limit. A limit of
// 0 means unlimited and is never exceeded.
func (l *Log) maybeRotate(nextFrameLen int) error {
	if l.cur == nil {
		return l.rotate()
	}
	overEntries := l.cfg.MaxEntriesPerFile > 0 && l.curCount >= l.cfg.MaxEntriesPerFile
	overBytes := l.cfg.MaxSizePerFileBytes > 0 && l.curBytes+int64(nextFrameLen) > l.cfg.MaxSizePerFileBytes
	if overEntries || overBytes {
		return l.rotate()
	}
	return nil
}

func (l *Log) rotate() error {
	if l.cur != nil {
		if err := l.flushLocked(); err != nil {
			return err
		}
		if err := l.cur.Close(); err != nil {
			return fmt.Errorf("redolog: close segment: %w", err)
		}
	}

	path := segmentPath(l.dir, l.nextLSN)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("redolog: create segment: %w", err)
	}

	l.cur = f
	l.curBuf = bufio.NewWriter(f)
	l.curCount = 0
	l.curBytes = 0
	l.segments = append(l.segments, segmentInfo{path: path, firstLSN: l.nextLSN})

	l.evictOldestFiles()
	return nil
}

func (l *Log) openCurrentForAppend() error {
	if len(l.segments) == 0 {
		return l.rotate()
	}
	last := l.segments[len(l.segments)-1]
	f, err := os.OpenFile(last.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("redolog: reopen segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("redolog: stat segment: %w", err)
	}
	l.cur = f
	l.curBuf = bufio.NewWriter(f)
	l.curBytes = info.Size()

	recs, err := readSegment(last.path, l.openFunc())
	if err == nil {
		l.curCount = len(recs)
	}
	return nil
}

// evictOldestFiles enforces max_files_per_log by deleting the oldest
// segments, never the one just created. A limit of 0 means unlimited:
// no eviction ever runs.
func (l *Log) evictOldestFiles() {
	if l.cfg.MaxFilesPerLog <= 0 {
		return
	}
	for len(l.segments) > l.cfg.MaxFilesPerLog {
		oldest := l.segments[0]
		if err := os.Remove(oldest.path); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("failed to evict oldest redo log segment", "path", oldest.path, "error", err)
			break
		}
		l.segments = l.segments[1:]
	}
}

// evictAcked drops segments that are entirely older than the ack
// cursor, once at least one newer segment exists to replace them.
func (l *Log) evictAcked() {
	for len(l.segments) > 1 {
		next := l.segments[1]
		if next.firstLSN > l.acked {
			break
		}
		oldest := l.segments[0]
		if err := os.Remove(oldest.path); err != nil && !os.IsNotExist(err) {
			break
		}
		l.segments = l.segments[1:]
	}
}

// maybeEvictForDiskSpace drops the oldest segment if free space has
// fallen below the configured threshold, so a slow/offline subscriber
// cannot fill the disk.
func (l *Log) maybeEvictForDiskSpace() error {
	avail, err := availableMB(l.dir)
	if err != nil {
		return err
	}
	for avail < l.cfg.MinAvailableDiskSpaceMB && len(l.segments) > 1 {
		oldest := l.segments[0]
		l.logger.Warn("evicting oldest redo log segment to preserve free disk space",
			"path", oldest.path, "available_mb", avail, "threshold_mb", l.cfg.MinAvailableDiskSpaceMB)
		if err := os.Remove(oldest.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		l.segments = l.segments[1:]
		avail, err = availableMB(l.dir)
		if err != nil {
			return err
		}
	}
	return nil
}

func segmentPath(dir string, firstLSN int64) string {
	return filepath.Join(dir, fmt.Sprintf("%s%020d%s", segmentPrefix, firstLSN, segmentSuffix))
}

// recover lists existing segments in order, validates each one's frame
// stream, and truncates the tail at the first corrupt frame or
// sequence-number gap it finds.
func (l *Log) recover() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("redolog: list dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), segmentPrefix) && strings.HasSuffix(e.Name(), segmentSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var lastLSN int64 = -1
	haveLast := false

	for _, name := range names {
		path := filepath.Join(l.dir, name)
		recs, truncateErr := scanSegment(path, l.openFunc())

		for _, r := range recs {
			if haveLast && r.LSN != lastLSN+1 {
				return l.truncateFrom(name, r.LSN, lastLSN)
			}
			lastLSN = r.LSN
			haveLast = true
		}

		l.segments = append(l.segments, segmentInfo{path: path, firstLSN: segmentFirstLSN(recs, name)})

		if truncateErr != nil {
			return fmt.Errorf("redolog: segment %s ended with a corrupt frame, truncated: %w", name, truncateErr)
		}
	}

	if haveLast {
		l.nextLSN = lastLSN + 1
	}
	return nil
}

func segmentFirstLSN(recs []Record, name string) int64 {
	if len(recs) > 0 {
		return recs[0].LSN
	}
	trimmed := strings.TrimPrefix(name, segmentPrefix)
	trimmed = strings.TrimSuffix(trimmed, segmentSuffix)
	n, _ := strconv.ParseInt(trimmed, 10, 64)
	return n
}

// truncateFrom drops every record from the sequence gap onward: it
// rewrites the offending segment to contain only the records before the
// gap, and deletes every segment after it.
func (l *Log) truncateFrom(name string, gapLSN, lastGood int64) error {
	l.logger.Warn("sequence gap detected during recovery, truncating log tail",
		"segment", name, "gap_lsn", gapLSN, "last_good_lsn", lastGood)

	path := filepath.Join(l.dir, name)
	recs, _ := scanSegment(path, l.openFunc())
	var kept []Record
	for _, r := range recs {
		if r.LSN > lastGood {
			break
		}
		kept = append(kept, r)
	}

	if err := rewriteSegment(path, kept, l.sealFunc()); err != nil {
		return fmt.Errorf("redolog: rewrite truncated segment: %w", err)
	}

	for _, later := range segmentNames(l.dir) {
		if later <= name {
			continue
		}
		os.Remove(filepath.Join(l.dir, later))
	}

	l.segments = append(l.segments, segmentInfo{path: path, firstLSN: segmentFirstLSN(kept, name)})
	l.nextLSN = lastGood + 1
	return fmt.Errorf("sequence gap at lsn %d", gapLSN)
}

func (l *Log) sealFunc() sealFunc {
	if l.cipher == nil {
		return nil
	}
	return l.cipher.seal
}

func segmentNames(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), segmentPrefix) && strings.HasSuffix(e.Name(), segmentSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func rewriteSegment(path string, recs []Record, seal sealFunc) error {
	tmp := path + ".rewrite"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	for _, r := range recs {
		frame, err := encodeFrame(r, seal)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(frame); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (l *Log) restoreAck() error {
	data, err := os.ReadFile(filepath.Join(l.dir, ackFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return err
	}
	l.acked = n
	return nil
}

// scanSegment reads every well-formed frame from path, stopping (without
// error) at end-of-file and returning an error only if a frame header
// is present but the frame itself is truncated or corrupt, which marks
// where an unclean shutdown cut the last write short.
func scanSegment(path string, open openFunc) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []Record
	header := make([]byte, 8)
	for {
		_, err := io.ReadFull(f, header)
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return recs, fmt.Errorf("truncated frame header: %w", err)
		}
		gotMagic := binary.BigEndian.Uint32(header[0:4])
		if gotMagic != magic {
			return recs, fmt.Errorf("bad frame magic")
		}
		length := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			return recs, fmt.Errorf("truncated frame payload: %w", err)
		}
		rec, err := decodeFrame(payload, open)
		if err != nil {
			return recs, fmt.Errorf("decode frame: %w", err)
		}
		recs = append(recs, rec)
	}
}

// readSegment is scanSegment without the stop-on-corruption contract;
// used for replay paths that only ever touch already-recovered segments.
func readSegment(path string, open openFunc) ([]Record, error) {
	recs, err := scanSegment(path, open)
	if err != nil && len(recs) == 0 {
		return nil, err
	}
	return recs, nil
}
