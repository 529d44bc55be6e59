package inventory

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// PackageContent is a package with the attributes derived from its quants
// パッケージと内容クォントから導出した属性
type PackageContent struct {
	Package    *Package `json:"package"`
	LocationID int64    `json:"location_id"` // 内容クォントのロケーション（空なら0）
	OwnerID    int64    `json:"owner_id"`    // 全クォント共通の所有者（混在なら0）
	Quants     []*Quant `json:"quants"`
}

// PackageContent returns a package with its quants, location and owner
// パッケージの内容を返す
func (s *Session) PackageContent(ctx context.Context, packageID int64) (*PackageContent, error) {
	pkg, err := s.tx.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	quants, err := s.tx.PackageQuants(ctx, packageID)
	if err != nil {
		return nil, NewStorageError("package_quants", "パッケージ内容の取得に失敗しました", err)
	}
	s.cacheQuants(quants)

	content := &PackageContent{Package: pkg, Quants: quants}
	if len(quants) > 0 {
		content.LocationID = quants[0].LocationID
		content.OwnerID = quants[0].OwnerID
		for _, q := range quants[1:] {
			if q.OwnerID != content.OwnerID {
				content.OwnerID = 0
				break
			}
		}
	}
	return content, nil
}

// Unpack empties a package: its quants and the open move lines taking from it lose the package.
// Quant maintenance runs afterwards since unpacked quants may now share a bucket.
// パッケージを解体し、クォントと未完了明細からパッケージを外す
func (s *Session) Unpack(ctx context.Context, packageID int64) error {
	content, err := s.PackageContent(ctx, packageID)
	if err != nil {
		return err
	}

	lines, err := s.tx.MoveLinesByPackage(ctx, packageID)
	if err != nil {
		return NewStorageError("move_lines_by_package", "移動明細の取得に失敗しました", err)
	}
	for _, l := range lines {
		if l.ReservedQty.IsZero() {
			continue
		}
		l.PackageID = 0
		if err := s.tx.UpdateMoveLine(ctx, l); err != nil {
			return NewStorageError("update_move_line", "移動明細の更新に失敗しました", err)
		}
	}

	var none int64
	for _, q := range content.Quants {
		if _, err := s.patchQuant(ctx, q.ID, QuantPatch{PackageID: &none}); err != nil && !errors.Is(err, ErrQuantNotFound) {
			return err
		}
	}

	if err := s.QuantTasks(ctx); err != nil {
		return err
	}

	s.logger().Info("パッケージ解体完了",
		zap.Int64("package_id", packageID),
		zap.Int("quants", len(content.Quants)),
		zap.Int("move_lines", len(lines)),
	)
	return nil
}
