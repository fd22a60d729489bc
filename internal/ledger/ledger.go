package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
}

// Open loads an existing ledger file or creates an empty one.
// Ledger file format: JSON lines (one JSON block per line).
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		blocks: make([]*Block, 0),
		path:   path,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return l, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry %d: %w", len(l.blocks), err)
		}
		l.blocks = append(l.blocks, &blk)
	}
	return l, nil
}

// Path is the backing JSONL file.
func (l *Ledger) Path() string {
	return l.path
}

// Append signs the block with priv, stores the hex pubkey, persists it to
// disk and keeps it in memory. The block must link to the current last hash.
func (l *Ledger) Append(b *Block, priv ed25519.PrivateKey, pub ed25519.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(b, priv, pub)
}

// AppendEntry builds the next block for e and appends it under a single
// lock, so concurrent writers cannot race on index or prevHash.
func (l *Ledger) AppendEntry(e Entry, priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	if len(l.blocks) > 0 {
		prev = l.blocks[len(l.blocks)-1].Hash
	}
	blk, err := NewBlock(len(l.blocks), e, prev)
	if err != nil {
		return nil, err
	}
	if err := l.appendLocked(blk, priv, pub); err != nil {
		return nil, err
	}
	return blk, nil
}

func (l *Ledger) appendLocked(b *Block, priv ed25519.PrivateKey, pub ed25519.PublicKey) error {
	if err := b.seal(); err != nil {
		return err
	}

	if b.Index != len(l.blocks) {
		return fmt.Errorf("index mismatch: expected %d, got %d", len(l.blocks), b.Index)
	}
	if len(l.blocks) > 0 {
		last := l.blocks[len(l.blocks)-1]
		if b.PrevHash != last.Hash {
			return fmt.Errorf("prevHash mismatch: expected %s, got %s", last.Hash, b.PrevHash)
		}
	}

	if len(priv) == 0 {
		return errors.New("private key is empty, cannot sign block")
	}
	b.Signature = hex.EncodeToString(ed25519.Sign(priv, []byte(b.Hash)))
	b.PubKey = hex.EncodeToString(pub)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(b); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}

	l.blocks = append(l.blocks, b)
	return nil
}

// Blocks returns a snapshot of the chain. The blocks are shared, not copied.
func (l *Ledger) Blocks() []*Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Block, len(l.blocks))
	copy(out, l.blocks)
	return out
}

// NextIndex returns the next block index
func (l *Ledger) NextIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// LastHash returns the last block hash (or empty if none)
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}
