package journal

import (
	"encoding/hex"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dir := t.TempDir()
	j, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAssignsSequenceAndParentHash(t *testing.T) {
	j := openTestJournal(t)

	first, err := j.Append(EventBody{Kind: "ack.exec.start", SessionID: "s1", Payload: map[string]any{"cmd": "git status"}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", first.Sequence)
	}
	if first.ParentHash != hex.EncodeToString(ZeroHash[:]) {
		t.Fatalf("first event parent hash should be the zero hash, got %s", first.ParentHash)
	}

	second, err := j.Append(EventBody{Kind: "ack.exec.end", SessionID: "s1", Payload: map[string]any{"exit_code": 0}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.Sequence != 2 {
		t.Fatalf("sequence = %d, want 2", second.Sequence)
	}

	want, err := chainHash(ZeroHash, EventBody{Kind: first.Kind, Persona: first.Persona, SessionID: first.SessionID, SpectralTag: first.SpectralTag, Payload: first.Payload})
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if second.ParentHash != hex.EncodeToString(want[:]) {
		t.Fatalf("second.ParentHash = %s, want %s", second.ParentHash, hex.EncodeToString(want[:]))
	}
}

func TestRangeIsRestartable(t *testing.T) {
	j := openTestJournal(t)
	for i := 0; i < 5; i++ {
		if _, err := j.Append(EventBody{Kind: "test.event", Payload: i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	first, err := j.Range(1, 3)
	if err != nil || len(first) != 3 {
		t.Fatalf("Range(1,3) = %d, %v", len(first), err)
	}
	rest, err := j.Range(4, 5)
	if err != nil || len(rest) != 2 {
		t.Fatalf("Range(4,5) = %d, %v", len(rest), err)
	}
	if rest[0].Sequence != 4 {
		t.Fatalf("restart cursor wrong: got seq %d", rest[0].Sequence)
	}
}

func TestTailReturnsMostRecent(t *testing.T) {
	j := openTestJournal(t)
	for i := 0; i < 10; i++ {
		j.Append(EventBody{Kind: "test.event", Payload: i})
	}
	tail, err := j.Tail(3)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 3 {
		t.Fatalf("len = %d, want 3", len(tail))
	}
	if tail[0].Sequence != 8 || tail[2].Sequence != 10 {
		t.Fatalf("got sequences %d..%d", tail[0].Sequence, tail[2].Sequence)
	}
}

func TestReopenRecoversChain(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 3; i++ {
		j.Append(EventBody{Kind: "test.event", Payload: i})
	}
	j.Close()

	j2, err := Open(dir, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	if j2.Truncated() {
		t.Fatal("unexpected truncation on clean reopen")
	}
	if j2.LastSequence() != 3 {
		t.Fatalf("LastSequence = %d, want 3", j2.LastSequence())
	}
	rec, err := j2.Append(EventBody{Kind: "test.event", Payload: "after-reopen"})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if rec.Sequence != 4 {
		t.Fatalf("sequence = %d, want 4", rec.Sequence)
	}
}

func TestRotationCreatesNewSegment(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, 64) // tiny limit forces rotation almost immediately
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer j.Close()
	for i := 0; i < 20; i++ {
		if _, err := j.Append(EventBody{Kind: "test.event", Payload: i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	files, err := j.segmentFiles()
	if err != nil {
		t.Fatalf("segmentFiles: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("expected rotation to produce multiple segments, got %d", len(files))
	}
	all, err := j.Range(1, 20)
	if err != nil || len(all) != 20 {
		t.Fatalf("Range across segments = %d, %v", len(all), err)
	}
}
