package inventory

import (
	"context"
	"errors"
	"sort"
)

// RemovalStrategyFor returns the effective removal strategy of a product at a location.
// The product category wins, then the first strategy found walking up from the location,
// then the configured default.
// 製品とロケーションに対する有効な払出戦略を返す
func (s *Session) RemovalStrategyFor(ctx context.Context, productID, locationID int64) (RemovalStrategy, error) {
	product, err := s.product(ctx, productID)
	if err != nil {
		return "", err
	}

	if product.CategoryID != 0 {
		category, err := s.category(ctx, product.CategoryID)
		if err != nil && !errors.Is(err, ErrCategoryNotFound) {
			return "", err
		}
		if category != nil && category.RemovalStrategy != "" {
			return category.RemovalStrategy, nil
		}
	}

	// 親ロケーションを辿る（循環していても止まるよう訪問済みを記録）
	seen := make(map[int64]bool)
	for id := locationID; id != 0 && !seen[id]; {
		seen[id] = true
		loc, err := s.location(ctx, id)
		if err != nil {
			if errors.Is(err, ErrLocationNotFound) {
				break
			}
			return "", err
		}
		if loc.RemovalStrategy != "" {
			return loc.RemovalStrategy, nil
		}
		id = loc.ParentID
	}

	return s.m.config.DefaultRemovalStrategy, nil
}

// sortQuants orders quants in place for consumption by the strategy
// 払出戦略の順にクォントを並べ替える
func sortQuants(quants []*Quant, strategy RemovalStrategy) error {
	switch strategy {
	case RemovalFIFO:
		sort.SliceStable(quants, func(i, j int) bool {
			a, b := quants[i], quants[j]
			if !a.InDate.Equal(b.InDate) {
				return a.InDate.Before(b.InDate)
			}
			return a.ID < b.ID
		})
	case RemovalLIFO:
		sort.SliceStable(quants, func(i, j int) bool {
			a, b := quants[i], quants[j]
			if !a.InDate.Equal(b.InDate) {
				return a.InDate.After(b.InDate)
			}
			return a.ID > b.ID
		})
	default:
		return &UnknownStrategyError{Strategy: string(strategy)}
	}
	return nil
}
