package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainLogger(t *testing.T) {
	logger := NewChainLogger()
	assert.Equal(t, GenesisHash, logger.Head())

	e1, err := logger.Append("account.created", map[string]any{"account_id": 1, "name": "alice"})
	require.NoError(t, err)
	e2, err := logger.Append("deposit", map[string]any{"account_id": 1, "amount": "10"})
	require.NoError(t, err)
	e3, err := logger.Append("withdraw", map[string]any{"account_id": 1, "amount": "4"})
	require.NoError(t, err)

	assert.Equal(t, GenesisHash, e1.PreviousHash)
	assert.Equal(t, e1.Hash, e2.PreviousHash)
	assert.Equal(t, uint64(3), e3.Sequence)
	assert.Equal(t, e3.Hash, logger.Head())

	chain := []*LogEntry{e1, e2, e3}
	assert.True(t, VerifyChain(chain), "valid chain")

	originalPayload := e2.Payload
	e2.Payload = `{"account_id":1,"amount":"1000"}`
	assert.False(t, VerifyChain(chain), "tampered payload")
	e2.Payload = originalPayload

	originalHash := e2.Hash
	e2.Hash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.False(t, VerifyChain(chain), "tampered hash")
	e2.Hash = originalHash

	assert.False(t, VerifyChain([]*LogEntry{e1, e3}), "dropped entry")

	e3.PreviousHash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	assert.False(t, VerifyChain(chain), "broken link")
}

func TestAppendEncodesFields(t *testing.T) {
	logger := NewChainLogger()

	e, err := logger.Append("transfer", map[string]any{"from": 1, "to": 2, "title": "rent"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(e.Payload), &fields))
	assert.Equal(t, "rent", fields["title"])
	assert.Equal(t, "transfer", e.Action)

	_, err = logger.Append("", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, logger.Len())
}

func TestEntriesAreCopies(t *testing.T) {
	logger := NewChainLogger().WithRetention()
	_, err := logger.Append("deposit", nil)
	require.NoError(t, err)

	entries := logger.Entries()
	entries[0].Payload = "changed"

	assert.True(t, VerifyChain(logger.Entries()))
}

func TestConcurrentAppend(t *testing.T) {
	logger := NewChainLogger().WithRetention()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := logger.Append("deposit", map[string]any{"n": i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries := logger.Entries()
	require.Len(t, entries, 50)
	assert.True(t, VerifyChain(entries))
}

func TestSinkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := NewChainLogger().WithSink(&buf)

	for _, action := range []string{"account.created", "deposit", "transfer"} {
		_, err := logger.Append(action, map[string]any{"account_id": 1})
		require.NoError(t, err)
	}
	raw := buf.String()

	tip, err := VerifyStream(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, logger.Tip(), tip)
	assert.Equal(t, uint64(3), tip.Sequence)

	tampered := strings.Replace(raw, `"action":"deposit"`, `"action":"withdraw"`, 1)
	_, err = VerifyStream(strings.NewReader(tampered))
	var broken *BreakError
	require.ErrorAs(t, err, &broken)
	assert.Equal(t, 1, broken.Index)
	assert.Equal(t, uint64(2), broken.Entry.Sequence)

	lines := strings.SplitAfter(raw, "\n")
	_, err = VerifyStream(strings.NewReader(strings.Join(lines[1:], "")))
	require.ErrorAs(t, err, &broken, "a chain must start at genesis")
	assert.Equal(t, 0, broken.Index)
}

func TestFirstBreak(t *testing.T) {
	logger := NewChainLogger().WithRetention()
	for i := 0; i < 3; i++ {
		_, err := logger.Append("deposit", map[string]any{"n": i})
		require.NoError(t, err)
	}

	entries := logger.Entries()
	assert.Equal(t, -1, FirstBreak(entries))
	assert.Equal(t, 0, FirstBreak(entries[1:]))

	entries[2].Payload = "{}"
	assert.Equal(t, 2, FirstBreak(entries))
}

func TestRetentionIsOptIn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewChainLogger().WithSink(&buf)
	for i := 0; i < 100; i++ {
		_, err := logger.Append("deposit", map[string]any{"n": i})
		require.NoError(t, err)
	}

	assert.Empty(t, logger.Entries())
	assert.Equal(t, 100, logger.Len())

	tip, err := VerifyStream(&buf)
	require.NoError(t, err)
	assert.Equal(t, logger.Head(), tip.Hash)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestSinkFailureKeepsChainUnchanged(t *testing.T) {
	logger := NewChainLogger().WithSink(failingWriter{})

	_, err := logger.Append("deposit", nil)
	assert.Error(t, err)
	assert.Zero(t, logger.Len())
	assert.Equal(t, GenesisHash, logger.Head())
}

func TestVerifyStreamRejectsGarbage(t *testing.T) {
	_, err := VerifyStream(strings.NewReader(`{"bogus":true}`))
	assert.Error(t, err)

	var broken *BreakError
	assert.False(t, errors.As(err, &broken))

	tip, err := VerifyStream(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Tip{Hash: GenesisHash}, tip)
}

func TestRestoreContinuesChain(t *testing.T) {
	var buf bytes.Buffer
	first := NewChainLogger().WithSink(&buf)
	for i := 0; i < 2; i++ {
		_, err := first.Append("deposit", map[string]any{"n": i})
		require.NoError(t, err)
	}

	tip, err := VerifyStream(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	second := NewChainLogger().WithSink(&buf)
	require.NoError(t, second.Restore(tip))
	assert.Equal(t, first.Head(), second.Head())
	assert.Equal(t, 2, second.Len())

	e, err := second.Append("withdraw", nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), e.Sequence)

	tip, err = VerifyStream(&buf)
	require.NoError(t, err)
	assert.Equal(t, second.Tip(), tip)

	assert.Error(t, second.Restore(tip), "restore after append")
	assert.Error(t, NewChainLogger().Restore(Tip{Hash: "abc"}))
	assert.Error(t, NewChainLogger().Restore(Tip{Sequence: 4, Hash: "abc"}))
	assert.NoError(t, NewChainLogger().Restore(Tip{Hash: GenesisHash}))
}
