package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// checkQuantBoundary rejects requests that can never own a quant
// クォントを持てない製品・ロケーションを拒否する
func checkQuantBoundary(product *Product, location *Location) error {
	if !product.IsStorable() {
		return NewConfigurationError(product.DisplayName(), "在庫品ではない製品のクォントは作成できません")
	}
	if location.Usage == UsageView {
		return NewConfigurationError(location.Name, "ビューロケーションにはクォントを作成できません")
	}
	return nil
}

// boundary loads the product and location of a key and checks them
func (s *Session) boundary(ctx context.Context, key QuantKey) (*Product, *Location, error) {
	product, err := s.product(ctx, key.ProductID)
	if err != nil {
		return nil, nil, err
	}
	location, err := s.location(ctx, key.LocationID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkQuantBoundary(product, location); err != nil {
		return nil, nil, err
	}
	return product, location, nil
}

// UpdateAvailableQuantity adds delta to the on hand quantity of a bucket.
// The first quant of the strict gather that can be locked without waiting is updated;
// when every row is held by another transaction a new quant is created and the
// duplicate is left to MergeQuants.
// It returns the non strict available quantity (negative allowed) and the effective in_date.
// バケットの手持数量を増減する（ロック競合時は新しいクォントを作成）
func (s *Session) UpdateAvailableQuantity(ctx context.Context, key QuantKey, delta decimal.Decimal, inDate *time.Time) (decimal.Decimal, time.Time, error) {
	product, location, err := s.boundary(ctx, key)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}

	quants, err := s.Gather(ctx, key, true)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}

	// 既存の入庫日と指定入庫日の最小値を採用
	var effective time.Time
	for _, q := range quants {
		if !q.InDate.IsZero() && (effective.IsZero() || q.InDate.Before(effective)) {
			effective = q.InDate
		}
	}
	if inDate != nil && !inDate.IsZero() && (effective.IsZero() || inDate.Before(effective)) {
		effective = *inDate
	}
	if effective.IsZero() {
		effective = s.now
	}

	if product.UoM.IsZero(delta) {
		available, err := s.GetAvailableQuantity(ctx, key, false, true)
		return available, effective, err
	}

	updated := false
	for _, q := range quants {
		quantID := q.ID
		err := s.withSavepoint(ctx, func() error {
			locked, err := s.tx.LockQuant(ctx, quantID)
			if err != nil {
				return err
			}
			locked.Quantity = locked.Quantity.Add(delta)
			locked.InDate = effective
			if err := s.tx.UpdateQuant(ctx, locked); err != nil {
				return err
			}
			s.quants[locked.ID] = locked
			return nil
		})
		if err == nil {
			updated = true
			break
		}
		if errors.Is(err, ErrLockNotAvailable) {
			s.m.metrics.lockContended()
			s.logger().Debug("ロック競合のためクォントをスキップしました",
				zap.Int64("quant_id", quantID),
				zap.Int64("product_id", key.ProductID),
				zap.Int64("location_id", key.LocationID),
			)
			continue
		}
		if errors.Is(err, ErrQuantNotFound) {
			// 検索後に他トランザクションが削除した
			delete(s.quants, quantID)
			s.logger().Debug("削除済みのクォントをスキップしました",
				zap.Int64("quant_id", quantID),
				zap.Int64("product_id", key.ProductID),
				zap.Int64("location_id", key.LocationID),
			)
			continue
		}
		s.invalidateQuantCache()
		return decimal.Zero, time.Time{}, NewStorageError("lock_quant", "クォントのロックに失敗しました", err)
	}

	if !updated {
		companyID := s.companyID
		if companyID == 0 {
			companyID = location.CompanyID
		}
		quant := &Quant{
			CompanyID:        companyID,
			ProductID:        key.ProductID,
			LocationID:       key.LocationID,
			LotID:            key.LotID,
			PackageID:        key.PackageID,
			OwnerID:          key.OwnerID,
			Quantity:         delta,
			ReservedQuantity: decimal.Zero,
			InDate:           effective,
		}
		if err := s.tx.CreateQuant(ctx, quant); err != nil {
			return decimal.Zero, time.Time{}, NewStorageError("create_quant", "クォント作成に失敗しました", err)
		}
		s.quants[quant.ID] = quant
		s.m.metrics.quantCreated()
	}

	if err := s.checkSerialQuantity(ctx, product, location, key.LotID); err != nil {
		return decimal.Zero, time.Time{}, err
	}

	available, err := s.GetAvailableQuantity(ctx, key, false, true)
	if err != nil {
		return decimal.Zero, time.Time{}, err
	}

	s.emitQuantUpdated(key, delta, available, effective)
	s.logger().Info("手持数量更新完了",
		zap.Int64("product_id", key.ProductID),
		zap.Int64("location_id", key.LocationID),
		zap.Int64("lot_id", key.LotID),
		zap.String("delta", delta.String()),
		zap.String("available", available.String()),
		zap.Bool("created", !updated),
	)

	return available, effective, nil
}

// checkSerialQuantity fails when a serial number would count more than one unit at a location
// シリアル番号の数量が1を超えていないか確認する
func (s *Session) checkSerialQuantity(ctx context.Context, product *Product, location *Location, lotID int64) error {
	if product.Tracking != TrackingSerial || lotID == 0 || location.Usage == UsageInventory {
		return nil
	}

	quants, err := s.tx.SearchQuants(ctx, QuantFilter{
		ProductID:   product.ID,
		CompanyID:   s.companyID,
		LocationIDs: []int64{location.ID},
		LotID:       lotID,
	})
	if err != nil {
		return NewStorageError("search_quants", "クォント検索に失敗しました", err)
	}

	total := decimal.Zero
	for _, q := range quants {
		total = total.Add(q.Quantity)
	}
	if product.UoM.Compare(total.Abs(), decimal.NewFromInt(1)) > 0 {
		lotName := ""
		if lot, err := s.tx.GetLot(ctx, lotID); err == nil {
			lotName = lot.Name
		}
		return &TrackingViolationError{Product: product.DisplayName(), Lot: lotName}
	}
	return nil
}

// UpdateReservedQuantity reserves delta units (delta > 0) or releases |delta| units (delta < 0)
// walking the gathered quants in removal strategy order.
// Only the reserved column is written, as a relative change, so on hand quantities
// committed by other transactions since the gather are kept.
// It returns every touched quant, as stored after the write, with the signed quantity taken from it.
// 払出戦略順にクォントを予約（または予約解除）する
func (s *Session) UpdateReservedQuantity(ctx context.Context, key QuantKey, delta decimal.Decimal, strict bool) ([]Reservation, error) {
	product, _, err := s.boundary(ctx, key)
	if err != nil {
		return nil, err
	}
	uom := product.UoM

	quants, err := s.Gather(ctx, key, strict)
	if err != nil {
		return nil, err
	}

	reserve := uom.Compare(delta, decimal.Zero) > 0
	var available decimal.Decimal
	switch {
	case reserve:
		available = availableFromQuants(product, quants, false)
		if uom.Compare(delta, available) > 0 {
			return nil, NewInsufficientStockError(product.DisplayName(), delta.String(), available.String())
		}
	case uom.Compare(delta, decimal.Zero) < 0:
		reserved := decimal.Zero
		for _, q := range quants {
			reserved = reserved.Add(q.ReservedQuantity)
		}
		if uom.Compare(delta.Abs(), reserved) > 0 {
			return nil, NewUnreserveOverflowError(product.DisplayName(), delta.Abs().String(), reserved.String())
		}
		available = reserved
	default:
		return nil, nil
	}

	remaining := delta.Abs()
	reservations := make([]Reservation, 0, len(quants))
	for _, q := range quants {
		var take decimal.Decimal
		if reserve {
			free := q.AvailableQuantity()
			if uom.Compare(free, decimal.Zero) <= 0 {
				continue
			}
			take = minDecimal(free, remaining)
		} else {
			take = minDecimal(q.ReservedQuantity, remaining)
			if uom.Compare(take, decimal.Zero) <= 0 {
				continue
			}
		}

		signed := take
		if !reserve {
			signed = take.Neg()
		}
		stored, err := s.tx.PatchQuant(ctx, q.ID, QuantPatch{ReservedDelta: signed})
		if errors.Is(err, ErrQuantNotFound) {
			delete(s.quants, q.ID)
			continue
		}
		if err != nil {
			s.invalidateQuantCache()
			return nil, NewStorageError("update_quant", "クォント更新に失敗しました", err)
		}
		s.quants[stored.ID] = stored
		reservations = append(reservations, Reservation{Quant: stored, Quantity: signed})

		remaining = remaining.Sub(take)
		available = available.Sub(take)
		if uom.IsZero(remaining) || uom.IsZero(available) {
			break
		}
	}

	s.m.metrics.reservationUpdated(reserve)
	s.logger().Info("予約数量更新完了",
		zap.Int64("product_id", key.ProductID),
		zap.Int64("location_id", key.LocationID),
		zap.String("delta", delta.String()),
		zap.Int("quants", len(reservations)),
		zap.Bool("strict", strict),
	)

	return reservations, nil
}
