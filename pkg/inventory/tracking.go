package inventory

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// CreateLot creates a lot or serial number of a tracked product
// 追跡製品のロット/シリアル番号を作成
func (s *Session) CreateLot(ctx context.Context, productID int64, name string) (*Lot, error) {
	name = strings.TrimSpace(name)
	if err := ValidateLotName(name); err != nil {
		return nil, err
	}

	product, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Tracking == TrackingNone {
		return nil, NewBusinessRuleError("lot_tracking", "追跡なしの製品にはロットを作成できません", product.DisplayName())
	}

	existing, err := s.tx.FindLot(ctx, productID, name, s.companyID)
	if err != nil && !errors.Is(err, ErrLotNotFound) {
		return nil, NewStorageError("find_lot", "ロット検索に失敗しました", err)
	}
	if existing != nil {
		return nil, ErrDuplicateLot
	}

	// ロット作成
	lot := &Lot{
		Name:      name,
		ProductID: productID,
		CompanyID: s.companyID,
		CreatedAt: s.now,
	}
	if err := s.tx.CreateLot(ctx, lot); err != nil {
		if errors.Is(err, ErrDuplicateLot) {
			return nil, err
		}
		return nil, NewStorageError("create_lot", "ロット作成に失敗しました", err)
	}

	s.logger().Info("ロット作成完了",
		zap.Int64("lot_id", lot.ID),
		zap.String("lot_name", name),
		zap.Int64("product_id", productID),
	)
	return lot, nil
}

// FindOrCreateLot returns the lot of that name within the product, creating it when missing
// 製品内の同名ロットを返し、なければ作成する
func (s *Session) FindOrCreateLot(ctx context.Context, productID int64, name string) (*Lot, error) {
	lot, err := s.tx.FindLot(ctx, productID, strings.TrimSpace(name), s.companyID)
	if err == nil {
		return lot, nil
	}
	if !errors.Is(err, ErrLotNotFound) {
		return nil, NewStorageError("find_lot", "ロット検索に失敗しました", err)
	}
	return s.CreateLot(ctx, productID, name)
}

// GetLot retrieves a lot
// ロットを取得
func (s *Session) GetLot(ctx context.Context, lotID int64) (*Lot, error) {
	return s.tx.GetLot(ctx, lotID)
}
