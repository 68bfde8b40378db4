package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// BreakError reports the first entry of a chain that does not verify.
type BreakError struct {
	Index int // zero-based position in the stream
	Entry LogEntry
}

func (e *BreakError) Error() string {
	return fmt.Sprintf("audit chain broken at entry %d (%s)", e.Entry.Sequence, e.Entry.Action)
}

// VerifyStream checks the JSON lines written by a ChainLogger sink one entry
// at a time and returns the tip of the chain. A chain that does not verify
// yields a *BreakError. Memory use does not depend on the length of r.
func VerifyStream(r io.Reader) (Tip, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	tip := Tip{Hash: GenesisHash}
	for i := 0; ; i++ {
		var e LogEntry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return tip, nil
			}
			return tip, fmt.Errorf("entry %d: %w", i+1, err)
		}
		if !links(tip, &e) {
			return tip, &BreakError{Index: i, Entry: e}
		}
		tip = Tip{Sequence: e.Sequence, Hash: e.Hash}
	}
}

// FirstBreak returns the index of the first entry that does not verify
// against its predecessor, or -1 when the chain is intact. The first entry
// must start from GenesisHash.
func FirstBreak(entries []*LogEntry) int {
	tip := Tip{Hash: GenesisHash}
	for i, e := range entries {
		if !links(tip, e) {
			return i
		}
		tip = Tip{Sequence: e.Sequence, Hash: e.Hash}
	}
	return -1
}

// links reports whether e is the valid successor of tip.
func links(tip Tip, e *LogEntry) bool {
	return e.PreviousHash == tip.Hash &&
		e.Sequence == tip.Sequence+1 &&
		entryHash(tip.Hash, e) == e.Hash
}
