package inventory

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InventoryAdjustmentReference is the reference of moves generated by inventory adjustments
const InventoryAdjustmentReference = "在庫数量調整"

// SetInventoryQuantity records a counted quantity on a quant without applying it.
// Quants at inventory locations are bookkeeping counterparts and are silently left alone.
// 実棚数量を記録する（棚卸ロケーションのクォントは無視）
func (s *Session) SetInventoryQuantity(ctx context.Context, quantID int64, counted decimal.Decimal) (SerialCheckResult, error) {
	var advisory SerialCheckResult

	if err := ValidateQuantity(counted, false); err != nil {
		return advisory, err
	}
	quant, err := s.quant(ctx, quantID)
	if err != nil {
		return advisory, err
	}
	location, err := s.location(ctx, quant.LocationID)
	if err != nil {
		return advisory, err
	}
	if location.Usage == UsageInventory {
		return advisory, nil
	}

	quant, err = s.patchQuant(ctx, quantID, QuantPatch{InventoryQuantity: &counted})
	if err != nil {
		return advisory, err
	}

	product, err := s.product(ctx, quant.ProductID)
	if err != nil {
		return advisory, err
	}
	if product.Tracking == TrackingSerial && quant.LotID != 0 && counted.IsPositive() {
		return s.checkSerialNumber(ctx, SerialCheckRequest{
			ProductID: quant.ProductID,
			LotID:     quant.LotID,
		}, quant.ID)
	}
	return advisory, nil
}

// ApplyInventory sets the counted quantity of a quant and posts the difference
// as a done move from or to the product's inventory location.
// It returns nil when there is nothing to post.
// 実棚数量との差分を棚卸調整移動として確定する
func (s *Session) ApplyInventory(ctx context.Context, quantID int64, counted decimal.Decimal) (*Move, error) {
	if err := ValidateQuantity(counted, false); err != nil {
		return nil, err
	}
	quant, err := s.quant(ctx, quantID)
	if err != nil {
		return nil, err
	}
	location, err := s.location(ctx, quant.LocationID)
	if err != nil {
		return nil, err
	}
	if location.Usage == UsageInventory {
		return nil, nil
	}
	product, _, err := s.boundary(ctx, quant.Key())
	if err != nil {
		return nil, err
	}

	// 適用後は実棚数量をリセット。差分は書き込み後の手持数量から求める
	quant, err = s.patchQuant(ctx, quantID, QuantPatch{ClearInventory: true})
	if err != nil {
		return nil, err
	}
	diff := counted.Sub(quant.Quantity)

	return s.postInventoryDiff(ctx, product, quant.Key(), quant.CompanyID, diff)
}

// ApplyInventoryAt counts a bucket that may not have a quant yet.
// The difference is taken against the strict on hand quantity of the bucket.
// クォントの有無に関わらずバケットの実棚数量を適用する
func (s *Session) ApplyInventoryAt(ctx context.Context, key QuantKey, counted decimal.Decimal) (*Move, error) {
	if err := ValidateQuantity(counted, false); err != nil {
		return nil, err
	}
	product, location, err := s.boundary(ctx, key)
	if err != nil {
		return nil, err
	}
	if location.Usage == UsageInventory {
		return nil, nil
	}

	quants, err := s.Gather(ctx, key, true)
	if err != nil {
		return nil, err
	}
	// 行をロックして最新の手持数量を合計する
	onHand := decimal.Zero
	for _, q := range quants {
		stored, err := s.patchQuant(ctx, q.ID, QuantPatch{ClearInventory: q.InventoryQuantitySet})
		if errors.Is(err, ErrQuantNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		onHand = onHand.Add(stored.Quantity)
	}

	companyID := s.companyID
	if companyID == 0 {
		companyID = location.CompanyID
	}
	return s.postInventoryDiff(ctx, product, key, companyID, counted.Sub(onHand))
}

// ActionApplyInventory applies the recorded count of every listed quant that has one
// 記録済みの実棚数量をまとめて適用する
func (s *Session) ActionApplyInventory(ctx context.Context, quantIDs []int64) ([]*Move, error) {
	moves := make([]*Move, 0, len(quantIDs))
	for _, id := range quantIDs {
		quant, err := s.quant(ctx, id)
		if err != nil {
			return nil, err
		}
		if !quant.InventoryQuantitySet {
			continue
		}
		move, err := s.ApplyInventory(ctx, id, quant.InventoryQuantity)
		if err != nil {
			return nil, err
		}
		if move != nil {
			moves = append(moves, move)
		}
	}
	return moves, nil
}

// postInventoryDiff creates and completes the move balancing diff against the inventory location
func (s *Session) postInventoryDiff(ctx context.Context, product *Product, key QuantKey, companyID int64, diff decimal.Decimal) (*Move, error) {
	if product.UoM.IsZero(diff) {
		return nil, nil
	}
	inventoryID, ok := product.InventoryLocation(companyID)
	if !ok {
		return nil, NewConfigurationError(product.DisplayName(), "会社の棚卸ロケーションが設定されていません")
	}

	increase := diff.IsPositive()
	req := MoveRequest{
		Reference:      InventoryAdjustmentReference,
		ProductID:      product.ID,
		Quantity:       diff.Abs(),
		LocationID:     key.LocationID,
		LocationDestID: inventoryID,
		IsInventory:    true,
	}
	line := MoveLineInput{
		QtyDone:   diff.Abs(),
		LotID:     key.LotID,
		PackageID: key.PackageID,
		OwnerID:   key.OwnerID,
	}
	if increase {
		req.LocationID, req.LocationDestID = inventoryID, key.LocationID
		line.PackageID = 0
		line.ResultPackageID = key.PackageID
	}

	move, err := s.CreateMove(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.Confirm(ctx, move.ID); err != nil {
		return nil, err
	}
	if _, err := s.AddMoveLine(ctx, move.ID, line); err != nil {
		return nil, err
	}
	if _, err := s.Done(ctx, move.ID, DoneOptions{CancelBackorder: true}); err != nil {
		return nil, err
	}

	s.m.metrics.inventoryAdjusted(increase)
	s.logger().Info("棚卸調整完了",
		zap.Int64("move_id", move.ID),
		zap.Int64("product_id", product.ID),
		zap.Int64("location_id", key.LocationID),
		zap.String("diff", diff.String()),
	)

	return s.tx.GetMove(ctx, move.ID)
}
