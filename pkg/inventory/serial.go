package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SerialCheckRequest describes the placement of a serial number to verify.
// SourceLocationID is 0 when the serial number is being assigned rather than moved.
// シリアル番号検証の要求
type SerialCheckRequest struct {
	ProductID           int64 `json:"product_id"`
	LotID               int64 `json:"lot_id"`
	SourceLocationID    int64 `json:"source_location_id,omitempty"`
	ReferenceLocationID int64 `json:"reference_location_id,omitempty"`
}

// CheckSerialNumber looks up where a serial number currently is and returns an advisory when
// it is already in stock (assignment) or not at the requested source location (move).
// It never fails because of the placement itself; the caller decides what to do.
// シリアル番号の所在を確認し、助言を返す（例外にはしない）
func (s *Session) CheckSerialNumber(ctx context.Context, req SerialCheckRequest) (SerialCheckResult, error) {
	return s.checkSerialNumber(ctx, req, 0)
}

func (s *Session) checkSerialNumber(ctx context.Context, req SerialCheckRequest, excludeQuantID int64) (SerialCheckResult, error) {
	var result SerialCheckResult
	if req.LotID == 0 {
		return result, nil
	}

	product, err := s.product(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return result, nil
		}
		return result, err
	}
	if product.Tracking != TrackingSerial {
		return result, nil
	}
	lot, err := s.tx.GetLot(ctx, req.LotID)
	if err != nil {
		if errors.Is(err, ErrLotNotFound) {
			return result, nil
		}
		return result, err
	}

	// 自社の社内・輸送中ロケーションと、全社の顧客ロケーション
	internal, err := s.tx.SearchQuants(ctx, QuantFilter{
		ProductID: product.ID,
		CompanyID: s.companyID,
		LotID:     lot.ID,
		Usages:    []LocationUsage{UsageInternal, UsageTransit},
		NonZero:   true,
	})
	if err != nil {
		return result, NewStorageError("search_quants", "クォント検索に失敗しました", err)
	}
	customer, err := s.tx.SearchQuants(ctx, QuantFilter{
		ProductID: product.ID,
		LotID:     lot.ID,
		Usages:    []LocationUsage{UsageCustomer},
		NonZero:   true,
	})
	if err != nil {
		return result, NewStorageError("search_quants", "クォント検索に失敗しました", err)
	}

	var locations []*Location
	seen := make(map[int64]bool)
	for _, q := range append(internal, customer...) {
		if q.ID == excludeQuantID || seen[q.LocationID] {
			continue
		}
		loc, err := s.location(ctx, q.LocationID)
		if err != nil {
			return result, err
		}
		seen[q.LocationID] = true
		locations = append(locations, loc)
	}
	if len(locations) == 0 {
		return result, nil
	}

	names := make([]string, 0, len(locations))
	for _, l := range locations {
		names = append(names, l.Name)
	}
	where := strings.Join(names, ", ")

	if req.SourceLocationID == 0 {
		result.Message = fmt.Sprintf("シリアル番号 %s は既に次のロケーションに存在します: %s。シリアル番号を確認してください。", lot.Name, where)
		s.logger().Warn("シリアル番号が既に使用されています", zap.String("lot", lot.Name), zap.String("locations", where))
		return result, nil
	}
	if seen[req.SourceLocationID] {
		return result, nil
	}

	var recommended *Location
	if req.ReferenceLocationID != 0 {
		for _, l := range locations {
			inside, err := s.isChildOf(ctx, l.ID, req.ReferenceLocationID)
			if err != nil {
				return result, err
			}
			if inside {
				recommended = l
				break
			}
		}
	} else {
		for _, l := range locations {
			if l.Usage != UsageCustomer {
				recommended = l
				break
			}
		}
	}

	sourceName := fmt.Sprintf("%d", req.SourceLocationID)
	if src, err := s.location(ctx, req.SourceLocationID); err == nil {
		sourceName = src.Name
	}

	if recommended != nil {
		result.RecommendedLocationID = recommended.ID
		result.Message = fmt.Sprintf("シリアル番号 %s は %s にはなく、次のロケーションに存在します: %s。移動元を %s に変更します。", lot.Name, sourceName, where, recommended.Name)
	} else {
		result.Message = fmt.Sprintf("シリアル番号 %s は %s にはなく、次のロケーションに存在します: %s。データの不整合を防ぐため修正してください。", lot.Name, sourceName, where)
	}
	s.logger().Warn("シリアル番号が移動元に存在しません",
		zap.String("lot", lot.Name),
		zap.Int64("source_location_id", req.SourceLocationID),
		zap.Int64("recommended_location_id", result.RecommendedLocationID),
	)
	return result, nil
}
