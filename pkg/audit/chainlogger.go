package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// LogEntry is one settlement audit record. Entries are hash-chained so the
// trail of balance-affecting decisions can be verified after the fact.
type LogEntry struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Payload      string `json:"payload"`
	Hash         string `json:"hash"`
}

// ChainLogger provides a tamper-evident audit trail using hash chaining.
// The settlement orchestrator appends an entry for every capture outcome.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	entries      []*LogEntry
}

// NewChainLogger creates a new ChainLogger initialized with a zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{
		previousHash: strings.Repeat("0", 64),
	}
}

// Append adds a new entry to the chain.
func (c *ChainLogger) Append(payload string) *LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &LogEntry{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		PreviousHash: c.previousHash,
		Payload:      payload,
	}

	hashInput := fmt.Sprintf("%s|%s|%s", entry.PreviousHash, entry.Timestamp, entry.Payload)
	hash := sha256.Sum256([]byte(hashInput))
	entry.Hash = hex.EncodeToString(hash[:])

	c.previousHash = entry.Hash
	c.entries = append(c.entries, entry)
	return entry
}

// Entries returns a snapshot of the trail, oldest first.
func (c *ChainLogger) Entries() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
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
		}

		hashInput := fmt.Sprintf("%s|%s|%s", prevHash, entry.Timestamp, entry.Payload)
		hash := sha256.Sum256([]byte(hashInput))
		computedHash := hex.EncodeToString(hash[:])

		if computedHash != entry.Hash {
			return false
		}
	}
	return true
}
