// Package audit keeps a tamper-evident record of ledger mutations.
//
// Each entry hashes its predecessor's hash together with its own content, so
// editing, dropping or reordering any entry breaks every later link.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// GenesisHash is the previous hash of the first entry in a chain.
var GenesisHash = strings.Repeat("0", 64)

// LogEntry represents a single audit log entry
type LogEntry struct {
	Sequence     uint64 `json:"sequence"`
	Timestamp    string `json:"timestamp"`
	Action       string `json:"action"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// ChainLogger provides a tamper-proof logging mechanism using hash chaining.
// Only the head of the chain is kept; entries themselves go to the sink,
// and are held in memory only when retention is turned on.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	sequence     uint64
	retain       bool
	entries      []*LogEntry
	now          func() time.Time
	sink         *json.Encoder
}

// Tip identifies the last entry of a chain.
type Tip struct {
	Sequence uint64
	Hash     string
}

// NewChainLogger creates a new ChainLogger initialized with a zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{
		previousHash: GenesisHash,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithSink makes every appended entry also be written to w as one JSON line.
func (c *ChainLogger) WithSink(w io.Writer) *ChainLogger {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = json.NewEncoder(w)
	return c
}

// WithRetention keeps entries appended from now on so Entries can return
// them. Memory then grows with the chain.
func (c *ChainLogger) WithRetention() *ChainLogger {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retain = true
	return c
}

// Restore continues the chain after tip, usually the result of VerifyStream
// over the sink file. It fails if anything has been appended already.
func (c *ChainLogger) Restore(tip Tip) error {
	switch {
	case tip.Sequence == 0 && tip.Hash != GenesisHash:
		return fmt.Errorf("empty chain must end at the genesis hash")
	case tip.Sequence > 0 && len(tip.Hash) != len(GenesisHash):
		return fmt.Errorf("malformed chain head %q", tip.Hash)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sequence > 0 {
		return fmt.Errorf("audit chain already has %d entries", c.sequence)
	}
	c.sequence = tip.Sequence
	c.previousHash = tip.Hash
	return nil
}

// Append records action with fields encoded as a JSON object. When a sink is
// set and writing to it fails, the entry is not added to the chain.
func (c *ChainLogger) Append(action string, fields map[string]any) (*LogEntry, error) {
	if action == "" {
		return nil, fmt.Errorf("audit action is required")
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Sequence:     c.sequence + 1,
		Timestamp:    c.now().Format(time.RFC3339Nano),
		Action:       action,
		PreviousHash: c.previousHash,
		Payload:      string(payload),
	}
	entry.Hash = entryHash(entry.PreviousHash, entry)

	if c.sink != nil {
		if err := c.sink.Encode(entry); err != nil {
			return nil, fmt.Errorf("failed to write audit entry: %w", err)
		}
	}

	c.previousHash = entry.Hash
	c.sequence = entry.Sequence
	if c.retain {
		c.entries = append(c.entries, entry)
	}

	cp := *entry
	return &cp, nil
}

// Entries returns a copy of the retained entries in append order. It is
// empty unless WithRetention was set.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*LogEntry, len(c.entries))
	for i, e := range c.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Len returns the sequence number of the last entry, restored ones included.
func (c *ChainLogger) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.sequence)
}

// Head returns the hash of the last entry, or GenesisHash for an empty chain.
func (c *ChainLogger) Head() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousHash
}

// Tip returns the sequence and hash of the last entry.
func (c *ChainLogger) Tip() Tip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Tip{Sequence: c.sequence, Hash: c.previousHash}
}

// VerifyChain checks if a slice of entries forms a valid hash chain.
func VerifyChain(entries []*LogEntry) bool {
	if len(entries) == 0 {
		return true
	}

	for i, entry := range entries {
		var prevHash string
		if i == 0 {
			prevHash = entry.PreviousHash
		} else {
			prevHash = entries[i-1].Hash
			if entry.PreviousHash != prevHash {
				return false
			}
			if entry.Sequence != entries[i-1].Sequence+1 {
				return false
			}
		}

		if entryHash(prevHash, entry) != entry.Hash {
			return false
		}
	}
	return true
}

func entryHash(prevHash string, e *LogEntry) string {
	hashInput := fmt.Sprintf("%s|%d|%s|%s|%s", prevHash, e.Sequence, e.Timestamp, e.Action, e.Payload)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}
