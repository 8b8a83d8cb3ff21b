// Package driver implements the generic driver framework that binds a
// feature family (pkg/feature) to a storage backend (pkg/store/fixed,
// pkg/store/inverted) and a master.Relation, independent of which
// family or backend is in play (spec §4.9: "the driver's generic
// logic... is independent of the family"). Grounded on
// original_source/src/otama_sboc_fixed_driver.hpp's FixedDriver<T>
// template and the driver base class it specializes.
package driver

import (
	"fmt"

	"github.com/otama-go/otama/pkg/master"
	"github.com/otama-go/otama/pkg/otid"
)

// pullTarget is the local storage surface the pull protocol writes
// through; fixedPullTarget, densePullTarget and invertedPullTarget (in
// bitvector.go, dense.go and sparse.go) adapt the concrete storage
// backends to it.
type pullTarget interface {
	appendRecord(no int64, id otid.ID, vector string) error
	updateFlag(no int64, flag int) error
	getLastNo() int64
	setLastNo(no int64) error
	getLastCommitNo() int64
	setLastCommitNo(no int64) error
	sync() error
}

// pull runs the two-phase reconciliation of spec §4.7 against rel,
// writing through target. Both phases are atomic against the caller's
// writer lock; pull itself does not lock — callers hold it for the
// whole call, matching "A pull is atomic against search at the batch
// level."
func pull(rel master.Relation, target pullTarget, shard master.ShardPredicate) error {
	if err := pullNewRecords(rel, target, shard); err != nil {
		return err
	}
	return pullFlagUpdates(rel, target, shard)
}

func pullNewRecords(rel master.Relation, target pullTarget, shard master.ShardPredicate) error {
	maxID, _, err := rel.MaxIDs(shard)
	if err != nil {
		return fmt.Errorf("driver: pull: %w", err)
	}

	for {
		lastNo := target.getLastNo()
		rows, err := rel.FetchNew(lastNo, maxID, shard, master.PullLimit)
		if err != nil {
			return fmt.Errorf("driver: pull: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		var batchMax int64
		for _, row := range rows {
			id, err := otid.FromHex(row.OtamaID)
			if err != nil {
				return fmt.Errorf("driver: pull: decode otama_id %q: %w", row.OtamaID, err)
			}
			if err := target.appendRecord(row.ID, id, row.Vector); err != nil {
				return fmt.Errorf("driver: pull: append record %d: %w", row.ID, err)
			}
			if row.ID > batchMax {
				batchMax = row.ID
			}
		}
		if err := target.setLastNo(batchMax); err != nil {
			return fmt.Errorf("driver: pull: %w", err)
		}
		if err := target.sync(); err != nil {
			return fmt.Errorf("driver: pull: %w", err)
		}
		if len(rows) < master.PullLimit {
			break
		}
	}
	return nil
}

func pullFlagUpdates(rel master.Relation, target pullTarget, shard master.ShardPredicate) error {
	_, maxCommit, err := rel.MaxIDs(shard)
	if err != nil {
		return fmt.Errorf("driver: pull: %w", err)
	}

	for {
		lastCommitNo := target.getLastCommitNo()
		rows, err := rel.FetchFlagUpdates(lastCommitNo, maxCommit, shard, master.PullLimit)
		if err != nil {
			return fmt.Errorf("driver: pull: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		var batchMax int64
		for _, row := range rows {
			if err := target.updateFlag(row.ID, row.Flag); err != nil {
				return fmt.Errorf("driver: pull: update flag %d: %w", row.ID, err)
			}
			if row.CommitID > batchMax {
				batchMax = row.CommitID
			}
		}
		if err := target.setLastCommitNo(batchMax); err != nil {
			return fmt.Errorf("driver: pull: %w", err)
		}
		if err := target.sync(); err != nil {
			return fmt.Errorf("driver: pull: %w", err)
		}
		if len(rows) < master.PullLimit {
			break
		}
	}
	return nil
}
