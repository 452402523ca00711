package store

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/rivalwatch/dbopen"
)

// RecordScan inserts snap and marks the target scanned with the snapshot's
// technologies, atomically. On error neither write is kept.
func (s *Store) RecordScan(ctx context.Context, snap *Snapshot) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := insertSnapshot(ctx, tx, snap); err != nil {
			return err
		}
		return updateTargetScan(ctx, tx, snap.TargetID, snap.CapturedAt, snap.Technologies)
	})
}

// RecordChange inserts ev and increments the target's change counter,
// atomically.
func (s *Store) RecordChange(ctx context.Context, ev *ChangeEvent) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := insertChangeEvent(ctx, tx, ev); err != nil {
			return err
		}
		return incrementChangeCount(ctx, tx, ev.TargetID)
	})
}
