package inventory

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Gather returns the candidate quants of a request in removal strategy order.
// Non strict gathers search the location subtree and ignore lot, package and owner when 0.
// Strict gathers match the location exactly and treat 0 as "none".
// A product, location or lot that no longer exists yields an empty result.
// 払出戦略順の候補クォントを返す
func (s *Session) Gather(ctx context.Context, key QuantKey, strict bool) ([]*Quant, error) {
	if _, err := s.product(ctx, key.ProductID); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := s.location(ctx, key.LocationID); err != nil {
		if errors.Is(err, ErrLocationNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if key.LotID != 0 {
		if _, err := s.tx.GetLot(ctx, key.LotID); err != nil {
			if errors.Is(err, ErrLotNotFound) {
				return nil, nil
			}
			return nil, err
		}
	}

	strategy, err := s.RemovalStrategyFor(ctx, key.ProductID, key.LocationID)
	if err != nil {
		return nil, err
	}

	filter := QuantFilter{
		ProductID: key.ProductID,
		CompanyID: s.companyID,
		LotID:     key.LotID,
		PackageID: key.PackageID,
		OwnerID:   key.OwnerID,
		Strict:    strict,
	}
	if strict {
		filter.LocationIDs = []int64{key.LocationID}
	} else {
		ids, err := s.childLocations(ctx, key.LocationID)
		if err != nil {
			return nil, err
		}
		filter.LocationIDs = ids
	}

	quants, err := s.tx.SearchQuants(ctx, filter)
	if err != nil {
		return nil, NewStorageError("search_quants", "クォント検索に失敗しました", err)
	}
	if err := sortQuants(quants, strategy); err != nil {
		return nil, err
	}

	s.cacheQuants(quants)
	return quants, nil
}

// GetAvailableQuantity returns the quantity that can still be reserved.
// Tracked products are summed per lot so a short lot cannot hide a surplus in another.
// 予約可能な数量を返す（追跡製品はロットごとに集計）
func (s *Session) GetAvailableQuantity(ctx context.Context, key QuantKey, strict, allowNegative bool) (decimal.Decimal, error) {
	product, err := s.product(ctx, key.ProductID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}

	quants, err := s.Gather(ctx, key, strict)
	if err != nil {
		return decimal.Zero, err
	}
	return availableFromQuants(product, quants, allowNegative), nil
}

// availableFromQuants aggregates Q - R over gathered quants
func availableFromQuants(product *Product, quants []*Quant, allowNegative bool) decimal.Decimal {
	if product.Tracking == TrackingNone {
		total := decimal.Zero
		for _, q := range quants {
			total = total.Add(q.AvailableQuantity())
		}
		if allowNegative || product.UoM.Compare(total, decimal.Zero) >= 0 {
			return total
		}
		return decimal.Zero
	}

	// lot 0 はロットなし（untracked）の集計キー
	perLot := make(map[int64]decimal.Decimal)
	order := make([]int64, 0)
	for _, q := range quants {
		if _, ok := perLot[q.LotID]; !ok {
			order = append(order, q.LotID)
		}
		perLot[q.LotID] = perLot[q.LotID].Add(q.AvailableQuantity())
	}

	total := decimal.Zero
	for _, lotID := range order {
		a := perLot[lotID]
		if allowNegative || product.UoM.Compare(a, decimal.Zero) > 0 {
			total = total.Add(a)
		}
	}
	return total
}
