package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"blockci-gh/internal/security"
)

// Verify re-computes each block hash, link and signature to detect tampering.
// Signatures are checked against the key stored in each block, so a chain
// re-signed end to end with another key still passes; use VerifyWith to pin
// the signer.
func (l *Ledger) Verify() error {
	return l.verify(nil)
}

// VerifyWith is Verify with every block required to be signed by trusted.
func (l *Ledger) VerifyWith(trusted ed25519.PublicKey) error {
	if len(trusted) != ed25519.PublicKeySize {
		return errors.New("trusted public key has invalid size")
	}
	return l.verify(trusted)
}

func (l *Ledger) verify(trusted ed25519.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, b := range l.blocks {
		if b.Index != i {
			return fmt.Errorf("index mismatch: expected %d got %d", i, b.Index)
		}

		h, err := b.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", b.Index, err)
		}
		if h != b.Hash {
			return fmt.Errorf("hash mismatch at index %d", b.Index)
		}

		if i > 0 && b.PrevHash != l.blocks[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at index %d", b.Index)
		}
		if i == 0 && b.PrevHash != "" {
			return fmt.Errorf("genesis block has prev hash %q", b.PrevHash)
		}

		var ok bool
		if trusted != nil {
			if !strings.EqualFold(b.PubKey, hex.EncodeToString(trusted)) {
				return fmt.Errorf("untrusted signing key at index %d", b.Index)
			}
			ok, err = security.VerifySignature(trusted, []byte(b.Hash), b.Signature)
		} else {
			ok, err = security.VerifySignatureFromHex(b.PubKey, []byte(b.Hash), b.Signature)
		}
		if err != nil {
			return fmt.Errorf("signature at index %d: %w", b.Index, err)
		}
		if !ok {
			return fmt.Errorf("bad signature at index %d", b.Index)
		}
	}
	return nil
}
