package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is what a caller records: one webhook delivery or one workflow step.
type Entry struct {
	Stage   string `json:"stage"`
	Step    string `json:"step"`
	Result  string `json:"result,omitempty"`
	LogPath string `json:"logPath"`
	LogHash string `json:"logHash"`
	AgentID string `json:"agentId"`
}

// Block places an Entry in the chain. It is stored as one flat JSON line.
type Block struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	Entry
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
	PubKey    string `json:"pubKey"`
}

// sealed is the hashed part of a block.
type sealed struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	Entry
	PrevHash string `json:"prevHash"`
}

// NewBlock links e after prevHash at the given index and seals it.
// The block is not signed yet.
func NewBlock(index int, e Entry, prevHash string) (*Block, error) {
	b := &Block{
		Index:     index,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Entry:     e,
		PrevHash:  prevHash,
	}
	if err := b.seal(); err != nil {
		return nil, err
	}
	return b, nil
}

// ComputeHash is the hex SHA-256 of the sealed fields.
func (b *Block) ComputeHash() (string, error) {
	data, err := json.Marshal(sealed{
		Index:     b.Index,
		Timestamp: b.Timestamp,
		Entry:     b.Entry,
		PrevHash:  b.PrevHash,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (b *Block) seal() error {
	h, err := b.ComputeHash()
	if err != nil {
		return fmt.Errorf("compute block hash: %w", err)
	}
	b.Hash = h
	return nil
}

// ShortHash is the first 16 hex characters of the block hash.
func (b *Block) ShortHash() string {
	if len(b.Hash) < 16 {
		return b.Hash
	}
	return b.Hash[:16]
}
