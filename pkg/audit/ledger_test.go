package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/munin/pkg/artifacts"
	"github.com/Mindburn-Labs/munin/pkg/canonicalize"
)

func stepClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newLedger(t *testing.T, b Backend) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), b)
	require.NoError(t, err)
	return l.WithClock(stepClock())
}

func seed(t *testing.T, l *Ledger, n int) {
	t.Helper()
	ctx := context.Background()
	actions := []Action{ActionCreate, ActionSign, ActionSign, ActionAuthorize, ActionExecute}
	for i := 0; i < n; i++ {
		_, err := l.Append(ctx, actions[i%len(actions)], fmt.Sprintf("actor-%d", i), fmt.Sprintf("pkt-%d", i/len(actions)),
			map[string]string{"i": fmt.Sprint(i)})
		require.NoError(t, err)
	}
}

func TestAppend_Chains(t *testing.T) {
	l := newLedger(t, NewMemoryBackend())
	ctx := context.Background()

	first, err := l.Append(ctx, ActionCreate, "engine", "pkt-1", nil)
	require.NoError(t, err)
	second, err := l.Append(ctx, ActionSign, "water/op-1", "pkt-1", map[string]string{"group": "water"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.SequenceNumber)
	assert.Equal(t, canonicalize.RootHash, first.PreviousHash)
	assert.Equal(t, canonicalize.Chain("", first.EntryHash), first.ReceiptHash)

	assert.Equal(t, uint64(2), second.SequenceNumber)
	assert.Equal(t, first.ReceiptHash, second.PreviousHash)
	assert.Equal(t, canonicalize.Chain(first.ReceiptHash, second.EntryHash), second.ReceiptHash)
	assert.Equal(t, second.ReceiptHash, l.Head())
}

func TestAppend_RequiresActionAndActor(t *testing.T) {
	l := newLedger(t, NewMemoryBackend())
	_, err := l.Append(context.Background(), "", "x", "p", nil)
	assert.ErrorIs(t, err, ErrInvalidEntry)
	_, err = l.Append(context.Background(), ActionCreate, "", "p", nil)
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestVerifyChain_ValidAndIdempotent(t *testing.T) {
	l := newLedger(t, NewMemoryBackend())
	seed(t, l, 7)

	r1, err := l.VerifyChain(context.Background())
	require.NoError(t, err)
	r2, err := l.VerifyChain(context.Background())
	require.NoError(t, err)

	assert.True(t, r1.Valid)
	assert.Equal(t, 7, r1.EntriesChecked)
	assert.Empty(t, r1.Errors)
	assert.Equal(t, r1, r2)
}

func TestVerifyChain_EmptyLedger(t *testing.T) {
	l := newLedger(t, NewMemoryBackend())
	r, err := l.VerifyChain(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Valid)
	assert.Zero(t, r.EntriesChecked)
}

func TestVerifyChain_DetectsTamperingOfEveryEntry(t *testing.T) {
	const n = 6
	tampers := map[string]func(e *Entry){
		"actor":         func(e *Entry) { e.Actor = "mallory" },
		"action":        func(e *Entry) { e.Action = ActionAuthorize + "x" },
		"packet":        func(e *Entry) { e.PacketID = "other" },
		"metadata":      func(e *Entry) { e.Metadata = map[string]string{"i": "forged"} },
		"timestamp":     func(e *Entry) { e.Timestamp = e.Timestamp.Add(time.Nanosecond * 1000) },
		"entry hash":    func(e *Entry) { e.EntryHash = "sha256:00" },
		"receipt hash":  func(e *Entry) { e.ReceiptHash = "sha256:00" },
		"previous hash": func(e *Entry) { e.PreviousHash = "sha256:00" },
	}

	for name, tamper := range tampers {
		for idx := 0; idx < n; idx++ {
			t.Run(fmt.Sprintf("%s/%d", name, idx), func(t *testing.T) {
				l := newLedger(t, NewMemoryBackend())
				seed(t, l, n)
				tamper(&l.entries[idx])

				r, err := l.VerifyChain(context.Background())
				require.NoError(t, err)
				assert.False(t, r.Valid)
				assert.Equal(t, uint64(idx+1), r.FirstInvalidSequence)
				assert.Equal(t, n, r.EntriesChecked)
				assert.Len(t, r.Errors, n-idx, "suffix invalidated")
			})
		}
	}
}

func TestVerifyChain_DetectsSingleByteMetadataEdit(t *testing.T) {
	const n = 6
	for idx := 0; idx < n; idx++ {
		t.Run(fmt.Sprintf("memory/%d", idx), func(t *testing.T) {
			l := newLedger(t, NewMemoryBackend())
			seed(t, l, n)
			v := []byte(l.entries[idx].Metadata["i"])
			v[len(v)-1] ^= 0x04
			l.entries[idx].Metadata = map[string]string{"i": string(v)}

			r, err := l.VerifyChain(context.Background())
			require.NoError(t, err)
			assert.False(t, r.Valid)
			assert.Equal(t, uint64(idx+1), r.FirstInvalidSequence)
		})
	}

	t.Run("file reload", func(t *testing.T) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "audit.jsonl")
		b, err := OpenFileBackend(path)
		require.NoError(t, err)
		l := newLedger(t, b)
		seed(t, l, n)
		require.NoError(t, l.Close())

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		edited := bytes.Replace(raw, []byte(`"i":"3"`), []byte(`"i":"7"`), 1)
		require.Len(t, edited, len(raw))
		require.NotEqual(t, raw, edited)
		require.NoError(t, os.WriteFile(path, edited, 0600))

		b, err = OpenFileBackend(path)
		require.NoError(t, err)
		reopened := newLedger(t, b)
		defer func() { _ = reopened.Close() }()

		r, err := reopened.VerifyChain(ctx)
		require.NoError(t, err)
		assert.False(t, r.Valid)
		assert.Equal(t, uint64(4), r.FirstInvalidSequence)
	})
}

func TestVerifyChain_DetectsRemovalAndReorder(t *testing.T) {
	l := newLedger(t, NewMemoryBackend())
	seed(t, l, 5)
	l.entries = append(l.entries[:2], l.entries[3:]...)
	r, err := l.VerifyChain(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Valid)
	assert.Equal(t, uint64(4), r.FirstInvalidSequence)

	l = newLedger(t, NewMemoryBackend())
	seed(t, l, 5)
	l.entries[1], l.entries[2] = l.entries[2], l.entries[1]
	r, err = l.VerifyChain(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Valid)
	assert.Equal(t, uint64(3), r.FirstInvalidSequence)
}

type failingBackend struct {
	MemoryBackend
	fail bool
}

func (f *failingBackend) Append(ctx context.Context, e Entry) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Append(ctx, e)
}

func TestAppend_PersistFailureLeavesLedgerUnchanged(t *testing.T) {
	b := &failingBackend{}
	l := newLedger(t, b)
	seed(t, l, 2)
	head := l.Head()

	b.fail = true
	_, err := l.Append(context.Background(), ActionReject, "op", "pkt-0", nil)
	require.ErrorIs(t, err, ErrPersist)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, head, l.Head())

	b.fail = false
	e, err := l.Append(context.Background(), ActionReject, "op", "pkt-0", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), e.SequenceNumber)
}

func TestQuery_NewestFirst(t *testing.T) {
	l := newLedger(t, NewMemoryBackend())
	seed(t, l, 10)

	all := l.Query(Filter{})
	require.Len(t, all, 10)
	assert.Equal(t, uint64(10), all[0].SequenceNumber)
	assert.Equal(t, uint64(1), all[9].SequenceNumber)

	signs := l.Query(Filter{Action: ActionSign})
	assert.Len(t, signs, 4)

	pkt := l.Query(Filter{PacketID: "pkt-1", Limit: 2})
	require.Len(t, pkt, 2)
	assert.Equal(t, uint64(10), pkt[0].SequenceNumber)
	assert.Equal(t, uint64(9), pkt[1].SequenceNumber)

	pkt[0].Metadata["i"] = "mutated"
	assert.Equal(t, "9", l.Query(Filter{Limit: 1})[0].Metadata["i"], "query returns copies")
}

func TestBundle_ExportVerifyArchive(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, NewMemoryBackend())
	seed(t, l, 10)

	b, err := l.ExportBundle(Filter{})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), b.StartSeq)
	assert.Equal(t, uint64(10), b.EndSeq)
	assert.Equal(t, l.Head(), b.ChainHead)
	require.NoError(t, VerifyBundle(b))

	partial, err := l.ExportBundle(Filter{PacketID: "pkt-0"})
	require.NoError(t, err)
	assert.Equal(t, 5, partial.EntryCount)
	require.NoError(t, VerifyBundle(partial))

	b.Entries[3].Actor = "mallory"
	assert.ErrorIs(t, VerifyBundle(b), ErrBundleTampered)

	_, err = l.ExportBundle(Filter{PacketID: "ghost"})
	assert.ErrorIs(t, err, ErrEmptyBundle)

	store, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ref, err := l.Archive(ctx, store)
	require.NoError(t, err)

	var archived Bundle
	require.NoError(t, artifacts.GetJSON(ctx, store, ref, &archived))
	require.NoError(t, VerifyBundle(&archived))
	assert.Equal(t, 10, archived.EntryCount)
}

func TestFileBackend_ReopenReplays(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	b, err := OpenFileBackend(path)
	require.NoError(t, err)
	l := newLedger(t, b)
	seed(t, l, 4)
	head := l.Head()
	require.NoError(t, l.Close())

	b, err = OpenFileBackend(path)
	require.NoError(t, err)
	reopened := newLedger(t, b)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, 4, reopened.Len())
	assert.Equal(t, head, reopened.Head())
	r, err := reopened.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, r.Valid)

	e, err := reopened.Append(ctx, ActionExecute, "ops", "pkt-0", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), e.SequenceNumber)
}

func TestFileBackend_FailedSyncLeavesNoLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	b, err := OpenFileBackend(path)
	require.NoError(t, err)
	l := newLedger(t, b)
	seed(t, l, 2)
	before, err := os.Stat(path)
	require.NoError(t, err)

	b.sync = func(*os.File) error { return errors.New("fsync: input/output error") }
	_, err = l.Append(ctx, ActionExecute, "ops", "pkt-0", map[string]string{"attempt": "1"})
	require.ErrorIs(t, err, ErrPersist)
	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size())

	b.sync = (*os.File).Sync
	e, err := l.Append(ctx, ActionExecute, "ops", "pkt-0", map[string]string{"attempt": "2"})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), e.SequenceNumber)
	require.NoError(t, l.Close())

	b, err = OpenFileBackend(path)
	require.NoError(t, err)
	reopened := newLedger(t, b)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, 3, reopened.Len())
	r, err := reopened.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, r.Valid)
	last := reopened.Query(Filter{Limit: 1})
	require.Len(t, last, 1)
	assert.Equal(t, "2", last[0].Metadata["attempt"])
}

func TestSQLiteBackend_ReopenReplays(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")

	b, err := OpenSQLiteBackend(ctx, path)
	require.NoError(t, err)
	l := newLedger(t, b)
	seed(t, l, 3)
	head := l.Head()
	require.NoError(t, l.Close())

	b, err = OpenSQLiteBackend(ctx, path)
	require.NoError(t, err)
	reopened := newLedger(t, b)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, head, reopened.Head())
	r, err := reopened.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, r.Valid)
	assert.Equal(t, "1", reopened.Query(Filter{Limit: 2})[1].Metadata["i"])
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	b, err := OpenBackend(ctx, BackendConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	_, err = OpenBackend(ctx, BackendConfig{Backend: "file"})
	assert.Error(t, err)
	_, err = OpenBackend(ctx, BackendConfig{Backend: "postgres"})
	assert.Error(t, err)
	_, err = OpenBackend(ctx, BackendConfig{Backend: "etcd"})
	assert.Error(t, err)
}
