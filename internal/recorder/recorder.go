// Package recorder archives webhook deliveries and seals them into the
// signed ledger.
package recorder

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"blockci-gh/internal/ctxlog"
	"blockci-gh/internal/handler"
	"blockci-gh/internal/ledger"
	"blockci-gh/internal/storage"
	"blockci-gh/pkg/utils"
)

type Recorder struct {
	Storage *storage.LogStorage
	Ledger  *ledger.Ledger
	PrivKey ed25519.PrivateKey
	PubKey  ed25519.PublicKey
}

func New(s *storage.LogStorage, l *ledger.Ledger, pub ed25519.PublicKey, priv ed25519.PrivateKey) *Recorder {
	return &Recorder{Storage: s, Ledger: l, PrivKey: priv, PubKey: pub}
}

// Record appends one block per delivery. Failures are logged only; the
// webhook response never depends on the audit trail.
func (r *Recorder) Record(ctx context.Context, ev handler.Event, out handler.Outcome, handleErr error) {
	if _, err := r.record(ev, out, handleErr); err != nil {
		ctxlog.FromContext(ctx).Warn("cannot record delivery", "err", err)
	}
}

func (r *Recorder) record(ev handler.Event, out handler.Outcome, handleErr error) (*ledger.Block, error) {
	logPath, err := r.Storage.SaveDelivery(ev.DeliveryID, ev.Kind, ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("archive delivery: %w", err)
	}

	stage := ev.Kind
	if out.Action != "" {
		stage += "." + out.Action
	}
	step := ev.DeliveryID
	if step == "" {
		step = "unknown-delivery"
	}

	blk, err := r.Ledger.AppendEntry(ledger.Entry{
		Stage:   stage,
		Step:    step,
		Result:  result(out, handleErr),
		LogPath: logPath,
		LogHash: utils.HashBytes(ev.Payload),
		AgentID: fmt.Sprintf("installation-%d", ev.InstallationID),
	}, r.PrivKey, r.PubKey)
	if err != nil {
		return nil, fmt.Errorf("append ledger block: %w", err)
	}
	return blk, nil
}

func result(out handler.Outcome, err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return out.String()
}
