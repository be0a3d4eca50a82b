package journal

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRotateBytes is the spec's default journal file rotation size (64 MiB).
const DefaultRotateBytes = 64 * 1024 * 1024

// Journal is an append-only, single-writer/many-reader event log backed by
// a directory of length-prefixed JSON segment files.
type Journal struct {
	dir          string
	rotateBytes  int64
	onAppend     func(EventRecord)

	mu          sync.Mutex // serializes append; Range never takes it, Tail only via LastSequence
	cur         *os.File
	curStartSeq uint64
	curSize     int64

	lastSeq    uint64
	lastHash   [32]byte
	truncated  bool
}

// Open opens (or creates) a journal rooted at dir, replaying existing
// segments to recover the sequence counter and parent-hash cursor.
func Open(dir string, rotateBytes int64) (*Journal, error) {
	if rotateBytes <= 0 {
		rotateBytes = DefaultRotateBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: mkdir %s: %w", dir, err)
	}
	j := &Journal{dir: dir, rotateBytes: rotateBytes}
	if err := j.recover(); err != nil {
		return nil, err
	}
	if err := j.openTail(); err != nil {
		return nil, err
	}
	return j, nil
}

// OnAppend registers a callback invoked synchronously after every
// successful append, used to drive telemetry and the snapshotter.
func (j *Journal) OnAppend(fn func(EventRecord)) {
	j.onAppend = fn
}

// Truncated reports whether recovery stopped early due to a broken
// parent-hash link or a partial record at the end of a segment (see
// spec §4.2's journal.truncated behavior).
func (j *Journal) Truncated() bool { return j.truncated }

// LastSequence returns the sequence number of the most recently appended
// event, or 0 if the journal is empty.
func (j *Journal) LastSequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

func (j *Journal) segmentFiles() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "journal-") && strings.HasSuffix(e.Name(), ".log") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files) // zero-padding isn't guaranteed, but "journal-<seq>" sorts correctly enough for numeric seq via parse below
	sort.Slice(files, func(a, b int) bool {
		return segmentStartSeq(files[a]) < segmentStartSeq(files[b])
	})
	return files, nil
}

func segmentStartSeq(name string) uint64 {
	base := strings.TrimSuffix(strings.TrimPrefix(name, "journal-"), ".log")
	n, _ := strconv.ParseUint(base, 10, 64)
	return n
}

// recover replays every segment in order, verifying the parent-hash chain.
// A broken link terminates recovery at the last verified record and sets
// Truncated.
func (j *Journal) recover() error {
	files, err := j.segmentFiles()
	if err != nil {
		return fmt.Errorf("journal: list segments: %w", err)
	}
	parent := ZeroHash
	var lastSeq uint64
	for _, name := range files {
		path := filepath.Join(j.dir, name)
		recs, truncated, err := readSegment(path)
		if err != nil {
			return fmt.Errorf("journal: read segment %s: %w", name, err)
		}
		for _, rec := range recs {
			want, err := chainHash(parent, EventBody{
				Kind: rec.Kind, Persona: rec.Persona, SessionID: rec.SessionID,
				SpectralTag: rec.SpectralTag, Payload: rec.Payload,
			})
			if err != nil {
				return fmt.Errorf("journal: recompute hash for seq %d: %w", rec.Sequence, err)
			}
			if hex.EncodeToString(want[:]) != rec.ParentHash {
				j.truncated = true
				break
			}
			parent = want
			lastSeq = rec.Sequence
		}
		if truncated {
			j.truncated = true
		}
		if j.truncated {
			break
		}
	}
	j.lastSeq = lastSeq
	j.lastHash = parent
	return nil
}

func (j *Journal) openTail() error {
	files, err := j.segmentFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return j.rotate(0)
	}
	last := files[len(files)-1]
	f, err := os.OpenFile(filepath.Join(j.dir, last), os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open tail segment: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	j.cur = f
	j.curStartSeq = segmentStartSeq(last)
	j.curSize = info.Size()
	return nil
}

func (j *Journal) rotate(startSeq uint64) error {
	if j.cur != nil {
		j.cur.Close()
	}
	name := fmt.Sprintf("journal-%020d.log", startSeq)
	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: create segment %s: %w", name, err)
	}
	j.cur = f
	j.curStartSeq = startSeq
	j.curSize = 0
	return nil
}

// Append assigns the next sequence number and parent hash, fsyncs the
// record, and returns the resulting EventRecord.
func (j *Journal) Append(body EventBody) (EventRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	norm, err := normalizePayload(body.Payload)
	if err != nil {
		return EventRecord{}, fmt.Errorf("journal: normalize payload: %w", err)
	}
	body.Payload = norm

	hash, err := chainHash(j.lastHash, body)
	if err != nil {
		return EventRecord{}, fmt.Errorf("journal: hash event: %w", err)
	}

	rec := EventRecord{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
		Kind:        body.Kind,
		Persona:     body.Persona,
		SessionID:   body.SessionID,
		Sequence:    j.lastSeq + 1,
		ParentHash:  hex.EncodeToString(hash[:]),
		Payload:     body.Payload,
		SpectralTag: body.SpectralTag,
	}

	enc, err := json.Marshal(rec)
	if err != nil {
		return EventRecord{}, fmt.Errorf("journal: marshal record: %w", err)
	}
	if j.curSize+int64(len(enc))+4 > j.rotateBytes && j.curSize > 0 {
		if err := j.rotate(rec.Sequence); err != nil {
			return EventRecord{}, err
		}
	}

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(enc)))
	if _, err := j.cur.Write(lenPrefix[:]); err != nil {
		return EventRecord{}, fmt.Errorf("journal: write length prefix: %w", err)
	}
	if _, err := j.cur.Write(enc); err != nil {
		return EventRecord{}, fmt.Errorf("journal: write record: %w", err)
	}
	if err := j.cur.Sync(); err != nil {
		return EventRecord{}, fmt.Errorf("journal: fsync: %w", err)
	}
	j.curSize += int64(len(enc)) + 4
	j.lastSeq = rec.Sequence
	j.lastHash = hash

	if j.onAppend != nil {
		j.onAppend(rec)
	}
	return rec, nil
}

// Range returns all events with start_sequence <= Sequence <= end_sequence,
// in order. It is restartable: callers resume by passing the last-seen
// sequence + 1 as start on the next call.
func (j *Journal) Range(startSeq, endSeq uint64) ([]EventRecord, error) {
	files, err := j.segmentFiles()
	if err != nil {
		return nil, fmt.Errorf("journal: list segments: %w", err)
	}
	var out []EventRecord
	for _, name := range files {
		if segmentStartSeq(name) > endSeq {
			break
		}
		recs, _, err := readSegment(filepath.Join(j.dir, name))
		if err != nil {
			return nil, fmt.Errorf("journal: read segment %s: %w", name, err)
		}
		for _, r := range recs {
			if r.Sequence >= startSeq && r.Sequence <= endSeq {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// Tail returns the most recent n events, oldest-first.
func (j *Journal) Tail(n int) ([]EventRecord, error) {
	last := j.LastSequence()
	if last == 0 || n <= 0 {
		return nil, nil
	}
	start := uint64(1)
	if uint64(n) < last {
		start = last - uint64(n) + 1
	}
	return j.Range(start, last)
}

// Close releases the current segment file handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cur != nil {
		return j.cur.Close()
	}
	return nil
}

func readSegment(path string) ([]EventRecord, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	var recs []EventRecord
	off := 0
	for off < len(data) {
		if off+4 > len(data) {
			return recs, true, nil // partial length prefix: treat as truncated tail
		}
		n := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		if off+int(n) > len(data) {
			return recs, true, nil // partial record body
		}
		var rec EventRecord
		if err := json.Unmarshal(data[off:off+int(n)], &rec); err != nil {
			return recs, true, nil
		}
		recs = append(recs, rec)
		off += int(n)
	}
	return recs, false, nil
}
