package inventory

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var lotNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_./-]+$`)

// ValidateID エンティティIDをバリデーション
func ValidateID(field string, id int64) error {
	if id <= 0 {
		return NewValidationError(field, "IDは正の値である必要があります", fmt.Sprintf("%d", id))
	}
	return nil
}

// ValidateQuantity 数量をバリデーション
func ValidateQuantity(quantity decimal.Decimal, allowNegative bool) error {
	if !allowNegative && quantity.IsNegative() {
		return NewValidationError("quantity", "負の数量は許可されていません", quantity.String())
	}
	limit := decimal.NewFromInt(999999999)
	if quantity.Abs().GreaterThan(limit) {
		return NewValidationError("quantity", "数量が有効範囲を超えています", quantity.String())
	}
	return nil
}

// ValidateReference 参照番号の形式をバリデーション
func ValidateReference(reference string) error {
	if reference == "" {
		return nil // 参照番号は任意
	}
	if len(reference) > 500 {
		return NewValidationError("reference", "参照番号が長すぎます", reference)
	}
	return nil
}

// ValidateLotName ロット番号の形式をバリデーション
func ValidateLotName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("lot_name", "ロット番号が空です", name)
	}
	if len(name) > 255 {
		return NewValidationError("lot_name", "ロット番号が長すぎます", name)
	}
	// 英数字、ハイフン、アンダースコア、ドット、スラッシュのみ許可
	if !lotNamePattern.MatchString(name) {
		return NewValidationError("lot_name", "ロット番号に無効な文字が含まれています", name)
	}
	return nil
}

// ValidateRemovalStrategy 払出戦略をバリデーション（空は未設定として許可）
func ValidateRemovalStrategy(strategy RemovalStrategy) error {
	switch strategy {
	case "", RemovalFIFO, RemovalLIFO:
		return nil
	}
	return &UnknownStrategyError{Strategy: string(strategy)}
}

// ValidateLocationUsage ロケーション用途をバリデーション
func ValidateLocationUsage(usage LocationUsage) error {
	switch usage {
	case UsageInternal, UsageTransit, UsageSupplier, UsageCustomer,
		UsageInventory, UsageProduction, UsageView, UsageScrap:
		return nil
	}
	return NewValidationError("usage", "無効なロケーション用途です", string(usage))
}

// ValidateLocation ロケーション全体をバリデーション
func ValidateLocation(location *Location) error {
	if location == nil {
		return NewValidationError("location", "ロケーションが指定されていません", "nil")
	}
	if strings.TrimSpace(location.Name) == "" {
		return NewValidationError("name", "ロケーション名が空です", location.Name)
	}
	if location.ParentID != 0 && location.ParentID == location.ID {
		return NewValidationError("parent_id", "自身を親ロケーションに指定できません", fmt.Sprintf("%d", location.ParentID))
	}
	if err := ValidateLocationUsage(location.Usage); err != nil {
		return err
	}
	return ValidateRemovalStrategy(location.RemovalStrategy)
}

// ValidateProduct 製品全体をバリデーション
func ValidateProduct(product *Product) error {
	if product == nil {
		return NewValidationError("product", "製品が指定されていません", "nil")
	}
	if strings.TrimSpace(product.Name) == "" {
		return NewValidationError("name", "製品名が空です", product.Name)
	}
	switch product.Type {
	case ProductTypeStorable, ProductTypeConsumable, ProductTypeService:
	default:
		return NewValidationError("type", "無効な製品区分です", string(product.Type))
	}
	switch product.Tracking {
	case TrackingNone, TrackingLot, TrackingSerial:
	default:
		return NewValidationError("tracking", "無効な追跡方法です", string(product.Tracking))
	}
	if product.UoM.Rounding.IsNegative() {
		return NewValidationError("uom.rounding", "丸め単位は正の値である必要があります", product.UoM.Rounding.String())
	}
	return nil
}

// ValidateMoveRequest 在庫移動の作成内容をバリデーション
func ValidateMoveRequest(req MoveRequest) error {
	if err := ValidateID("product_id", req.ProductID); err != nil {
		return err
	}
	if err := ValidateID("location_id", req.LocationID); err != nil {
		return err
	}
	if err := ValidateID("location_dest_id", req.LocationDestID); err != nil {
		return err
	}
	if !req.Quantity.IsPositive() {
		return NewValidationError("quantity", "数量は正の値である必要があります", req.Quantity.String())
	}
	if err := ValidateQuantity(req.Quantity, false); err != nil {
		return err
	}
	for _, id := range req.OriginMoveIDs {
		if err := ValidateID("origin_move_ids", id); err != nil {
			return err
		}
	}
	return ValidateReference(req.Reference)
}
