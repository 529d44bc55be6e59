package inventory

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QuantTasks merges duplicate quants then deletes zero quants.
// It is idempotent and safe to call after any batch of mutations.
// 重複クォントのマージとゼロクォントの削除を順に実行
func (s *Session) QuantTasks(ctx context.Context) error {
	if _, err := s.MergeQuants(ctx); err != nil {
		return err
	}
	if _, err := s.UnlinkZeroQuants(ctx); err != nil {
		return err
	}
	return nil
}

// MergeQuants collapses quants sharing a (company, product, location, lot, package, owner) bucket.
// The lowest id survives with the summed quantities and the earliest in_date.
// Each group is merged inside its own savepoint; a failing group is logged and skipped.
// 同一バケットのクォントを最小IDのクォントに統合する
func (s *Session) MergeQuants(ctx context.Context) (int, error) {
	groups, err := s.tx.DuplicateQuantGroups(ctx)
	if err != nil {
		return 0, NewStorageError("duplicate_quant_groups", "重複クォントの検索に失敗しました", err)
	}

	merged := 0
	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		group := ids
		err := s.withSavepoint(ctx, func() error {
			return s.mergeGroup(ctx, group)
		})
		if err != nil {
			s.m.metrics.groupMerged(true)
			switch {
			case errors.Is(err, ErrLockNotAvailable):
				s.logger().Debug("ロック競合のためクォントのマージをスキップしました", zap.Int64s("quant_ids", group))
			case errors.Is(err, ErrDuplicateBucket):
				s.logger().Warn("クォントのマージ中に重複キーが発生しました", zap.Int64s("quant_ids", group), zap.Error(err))
			default:
				s.logger().Warn("クォントのマージ中にエラーが発生しました", zap.Int64s("quant_ids", group), zap.Error(err))
			}
			continue
		}
		s.m.metrics.groupMerged(false)
		merged++
	}

	s.invalidateQuantCache()
	if merged > 0 {
		s.logger().Info("クォントマージ完了", zap.Int("groups", merged))
	}
	return merged, nil
}

// mergeGroup locks every quant of the group without waiting before rewriting the survivor,
// so a group touched by another transaction is skipped rather than overwritten.
func (s *Session) mergeGroup(ctx context.Context, ids []int64) error {
	survivor, err := s.tx.LockQuant(ctx, ids[0])
	if err != nil {
		return err
	}

	for _, id := range ids[1:] {
		q, err := s.tx.LockQuant(ctx, id)
		if err != nil {
			return err
		}
		survivor.Quantity = survivor.Quantity.Add(q.Quantity)
		survivor.ReservedQuantity = survivor.ReservedQuantity.Add(q.ReservedQuantity)
		if q.InventoryQuantitySet {
			if !survivor.InventoryQuantitySet {
				survivor.InventoryQuantity = decimal.Zero
			}
			survivor.InventoryQuantity = survivor.InventoryQuantity.Add(q.InventoryQuantity)
			survivor.InventoryQuantitySet = true
		}
		if !q.InDate.IsZero() && (survivor.InDate.IsZero() || q.InDate.Before(survivor.InDate)) {
			survivor.InDate = q.InDate
		}
	}

	if err := s.tx.DeleteQuants(ctx, ids[1:]); err != nil {
		return err
	}
	return s.tx.UpdateQuant(ctx, survivor)
}

// zeroQuantPrecision returns the decimals used to decide that a quant is empty
func (s *Session) zeroQuantPrecision() int32 {
	p := 2 * s.m.config.UoMDecimalPrecision
	if p < 6 {
		p = 6
	}
	return p
}

// UnlinkZeroQuants deletes every quant whose quantity and reserved quantity round to zero
// in a single storage statement.
// 手持数量と予約数量がゼロのクォントを一括削除する
func (s *Session) UnlinkZeroQuants(ctx context.Context) (int64, error) {
	n, err := s.tx.DeleteZeroQuants(ctx, s.zeroQuantPrecision())
	if err != nil {
		return 0, NewStorageError("delete_zero_quants", "ゼロクォントの削除に失敗しました", err)
	}

	s.invalidateQuantCache()
	s.m.metrics.quantsUnlinked(n)
	if n > 0 {
		s.logger().Info("ゼロクォント削除完了", zap.Int64("deleted", n))
	}
	return n, nil
}
