package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MoveRequest describes a stock move to create
// 作成する在庫移動の内容
type MoveRequest struct {
	Reference      string          `json:"reference"`
	ProductID      int64           `json:"product_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	LocationID     int64           `json:"location_id"`
	LocationDestID int64           `json:"location_dest_id"`
	OwnerID        int64           `json:"owner_id,omitempty"`
	OriginMoveIDs  []int64         `json:"origin_move_ids,omitempty"`
	IsInventory    bool            `json:"-"`
}

// MoveLineInput describes a line added by hand to a move
// 手動で追加する移動明細
type MoveLineInput struct {
	QtyDone         decimal.Decimal `json:"qty_done"`
	LocationID      int64           `json:"location_id,omitempty"`
	LocationDestID  int64           `json:"location_dest_id,omitempty"`
	LotID           int64           `json:"lot_id,omitempty"`
	PackageID       int64           `json:"package_id,omitempty"`
	ResultPackageID int64           `json:"result_package_id,omitempty"`
	OwnerID         int64           `json:"owner_id,omitempty"`
}

// MoveLineEdit holds the fields of a move line edit; nil fields are left unchanged
// 移動明細の編集内容（nil の項目は変更しない）
type MoveLineEdit struct {
	QtyDone         *decimal.Decimal `json:"qty_done,omitempty"`
	LotID           *int64           `json:"lot_id,omitempty"`
	PackageID       *int64           `json:"package_id,omitempty"`
	OwnerID         *int64           `json:"owner_id,omitempty"`
	LocationDestID  *int64           `json:"location_dest_id,omitempty"`
	ResultPackageID *int64           `json:"result_package_id,omitempty"`
}

// DoneOptions tunes the completion of a move
type DoneOptions struct {
	// CancelBackorder drops the undone remainder instead of creating a backorder
	CancelBackorder bool `json:"cancel_backorder"`
}

// shouldBypass reports whether moves of the product from the location skip quant reservation
func shouldBypass(product *Product, location *Location) bool {
	return !product.IsStorable() || location.ShouldBypassReservation()
}

// CreateMove creates a draft move
// 下書き状態の在庫移動を作成
func (s *Session) CreateMove(ctx context.Context, req MoveRequest) (*Move, error) {
	if err := ValidateMoveRequest(req); err != nil {
		return nil, err
	}
	product, err := s.product(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if _, err := s.location(ctx, req.LocationID); err != nil {
		return nil, err
	}
	if _, err := s.location(ctx, req.LocationDestID); err != nil {
		return nil, err
	}
	for _, originID := range req.OriginMoveIDs {
		if _, err := s.tx.GetMove(ctx, originID); err != nil {
			return nil, err
		}
	}

	move := &Move{
		Reference:      req.Reference,
		CompanyID:      s.companyID,
		ProductID:      product.ID,
		ProductUoMQty:  product.UoM.Round(req.Quantity),
		LocationID:     req.LocationID,
		LocationDestID: req.LocationDestID,
		OwnerID:        req.OwnerID,
		State:          MoveStateDraft,
		IsInventory:    req.IsInventory,
		OriginMoveIDs:  append([]int64(nil), req.OriginMoveIDs...),
		CreatedAt:      s.now,
	}
	if err := s.tx.CreateMove(ctx, move); err != nil {
		return nil, NewStorageError("create_move", "在庫移動の作成に失敗しました", err)
	}

	s.logger().Info("在庫移動作成完了",
		zap.Int64("move_id", move.ID),
		zap.String("reference", move.Reference),
		zap.Int64("product_id", move.ProductID),
		zap.String("quantity", move.ProductUoMQty.String()),
	)
	return move, nil
}

// GetMove returns a move
func (s *Session) GetMove(ctx context.Context, moveID int64) (*Move, error) {
	return s.tx.GetMove(ctx, moveID)
}

// MoveLines returns the lines of a move
func (s *Session) MoveLines(ctx context.Context, moveID int64) ([]*MoveLine, error) {
	return s.tx.MoveLines(ctx, moveID)
}

// Availability returns min(demand, reserved) of a move
// 在庫移動の引当可能数量
func (s *Session) Availability(ctx context.Context, moveID int64) (decimal.Decimal, error) {
	move, err := s.tx.GetMove(ctx, moveID)
	if err != nil {
		return decimal.Zero, err
	}
	lines, err := s.tx.MoveLines(ctx, moveID)
	if err != nil {
		return decimal.Zero, err
	}
	return minDecimal(move.ProductUoMQty, reservedOf(lines)), nil
}

// Confirm moves a draft move to confirmed
// 下書きの在庫移動を確定する
func (s *Session) Confirm(ctx context.Context, moveID int64) (*Move, error) {
	move, err := s.tx.GetMove(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if move.State != MoveStateDraft {
		return nil, NewBusinessRuleError("move_confirm", "下書き以外の在庫移動は確定できません", moveContext(move))
	}

	move.State = MoveStateConfirmed
	if err := s.tx.UpdateMove(ctx, move); err != nil {
		return nil, NewStorageError("update_move", "在庫移動の更新に失敗しました", err)
	}
	return move, nil
}

// Assign reserves stock for the missing part of a confirmed move.
// Moves from locations without quants reserve nothing and get their full demand on a line.
// Chained moves only reserve what their done origin moves brought to the source location.
// 確定済み在庫移動の不足分を引き当てる
func (s *Session) Assign(ctx context.Context, moveID int64) (*Move, error) {
	move, err := s.tx.GetMove(ctx, moveID)
	if err != nil {
		return nil, err
	}
	switch move.State {
	case MoveStateConfirmed, MoveStatePartiallyAvailable, MoveStateAssigned:
	default:
		return nil, NewBusinessRuleError("move_assign", "この状態の在庫移動は引当できません", moveContext(move))
	}

	product, err := s.product(ctx, move.ProductID)
	if err != nil {
		return nil, err
	}
	source, err := s.location(ctx, move.LocationID)
	if err != nil {
		return nil, err
	}

	lines, err := s.tx.MoveLines(ctx, move.ID)
	if err != nil {
		return nil, err
	}
	need := move.ProductUoMQty.Sub(reservedOf(lines))

	if product.UoM.Compare(need, decimal.Zero) > 0 {
		switch {
		case shouldBypass(product, source):
			err = s.assignBypass(ctx, move, product, need)
		case len(move.OriginMoveIDs) > 0:
			err = s.assignChained(ctx, move, product, need)
		default:
			err = s.assignFromStock(ctx, move, product, need)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := s.refreshState(ctx, move); err != nil {
		return nil, err
	}

	s.logger().Info("在庫移動引当完了",
		zap.Int64("move_id", move.ID),
		zap.String("state", string(move.State)),
	)
	return move, nil
}

// assignBypass puts the full missing quantity on lines without touching quants
func (s *Session) assignBypass(ctx context.Context, move *Move, product *Product, need decimal.Decimal) error {
	key := QuantKey{ProductID: product.ID, LocationID: move.LocationID, OwnerID: move.OwnerID}
	return s.attachReserved(ctx, move, product, key, need)
}

// assignFromStock reserves what is available in the source subtree
func (s *Session) assignFromStock(ctx context.Context, move *Move, product *Product, need decimal.Decimal) error {
	key := QuantKey{ProductID: product.ID, LocationID: move.LocationID, OwnerID: move.OwnerID}
	available, err := s.GetAvailableQuantity(ctx, key, false, false)
	if err != nil {
		return err
	}
	take := minDecimal(need, available)
	if product.UoM.Compare(take, decimal.Zero) <= 0 {
		return nil
	}

	reservations, err := s.UpdateReservedQuantity(ctx, key, take, false)
	if err != nil {
		return err
	}
	for _, r := range reservations {
		if err := s.attachReserved(ctx, move, product, r.Quant.Key(), r.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// chainKey groups what origin moves brought into a location
type chainKey struct {
	locationID int64
	lotID      int64
	packageID  int64
	ownerID    int64
}

// assignChained reserves from what done origin moves delivered into the source location,
// minus what sibling moves already reserved or consumed from it
// 連鎖元の完了明細が移動元に届けた分だけを引き当てる
func (s *Session) assignChained(ctx context.Context, move *Move, product *Product, need decimal.Decimal) error {
	incoming := make(map[chainKey]decimal.Decimal)
	order := make([]chainKey, 0)
	siblings := make(map[int64]*Move)

	for _, originID := range move.OriginMoveIDs {
		origin, err := s.tx.GetMove(ctx, originID)
		if err != nil {
			return err
		}
		dests, err := s.tx.DestinationMoves(ctx, originID)
		if err != nil {
			return err
		}
		for _, d := range dests {
			siblings[d.ID] = d
		}
		if origin.State != MoveStateDone {
			continue
		}

		lines, err := s.tx.MoveLines(ctx, originID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.QtyDone.IsZero() {
				continue
			}
			inside, err := s.isChildOf(ctx, l.LocationDestID, move.LocationID)
			if err != nil {
				return err
			}
			if !inside {
				continue
			}
			k := chainKey{l.LocationDestID, l.LotID, l.ResultPackageID, l.OwnerID}
			if _, ok := incoming[k]; !ok {
				order = append(order, k)
			}
			incoming[k] = incoming[k].Add(l.QtyDone)
		}
	}
	siblings[move.ID] = move

	for _, sibling := range siblings {
		if sibling.State == MoveStateCancel {
			continue
		}
		lines, err := s.tx.MoveLines(ctx, sibling.ID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			k := chainKey{l.LocationID, l.LotID, l.PackageID, l.OwnerID}
			if _, ok := incoming[k]; !ok {
				continue
			}
			used := l.ReservedQty
			if sibling.State == MoveStateDone {
				used = l.QtyDone
			}
			incoming[k] = incoming[k].Sub(used)
		}
	}

	for _, k := range order {
		if product.UoM.Compare(need, decimal.Zero) <= 0 {
			break
		}
		take := minDecimal(incoming[k], need)
		if product.UoM.Compare(take, decimal.Zero) <= 0 {
			continue
		}

		key := QuantKey{ProductID: product.ID, LocationID: k.locationID, LotID: k.lotID, PackageID: k.packageID, OwnerID: k.ownerID}
		available, err := s.GetAvailableQuantity(ctx, key, true, false)
		if err != nil {
			return err
		}
		take = minDecimal(take, available)
		if product.UoM.Compare(take, decimal.Zero) <= 0 {
			continue
		}

		reservations, err := s.UpdateReservedQuantity(ctx, key, take, true)
		if err != nil {
			return err
		}
		for _, r := range reservations {
			if err := s.attachReserved(ctx, move, product, r.Quant.Key(), r.Quantity); err != nil {
				return err
			}
			need = need.Sub(r.Quantity)
		}
	}
	return nil
}

// attachReserved records a reserved slice on the move line of the same bucket, creating one if needed.
// Serial products get one line per unit.
// 予約分を同じバケットの明細に加算（なければ作成）
func (s *Session) attachReserved(ctx context.Context, move *Move, product *Product, key QuantKey, qty decimal.Decimal) error {
	if product.Tracking == TrackingSerial {
		one := decimal.NewFromInt(1)
		for product.UoM.Compare(qty, decimal.Zero) > 0 {
			unit := minDecimal(one, qty)
			if err := s.createReservationLine(ctx, move, key, unit); err != nil {
				return err
			}
			qty = qty.Sub(unit)
		}
		return nil
	}

	lines, err := s.tx.MoveLines(ctx, move.ID)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if l.SourceKey() == key && l.LocationDestID == move.LocationDestID && l.QtyDone.IsZero() {
			l.ReservedQty = l.ReservedQty.Add(qty)
			if l.DemandQty.LessThan(l.ReservedQty) {
				l.DemandQty = l.ReservedQty
			}
			if err := s.tx.UpdateMoveLine(ctx, l); err != nil {
				return NewStorageError("update_move_line", "移動明細の更新に失敗しました", err)
			}
			return nil
		}
	}
	return s.createReservationLine(ctx, move, key, qty)
}

func (s *Session) createReservationLine(ctx context.Context, move *Move, key QuantKey, qty decimal.Decimal) error {
	line := &MoveLine{
		MoveID:         move.ID,
		CompanyID:      move.CompanyID,
		ProductID:      move.ProductID,
		DemandQty:      qty,
		ReservedQty:    qty,
		QtyDone:        decimal.Zero,
		LocationID:     key.LocationID,
		LocationDestID: move.LocationDestID,
		LotID:          key.LotID,
		PackageID:      key.PackageID,
		OwnerID:        key.OwnerID,
		Origin:         LineOriginReservation,
	}
	if err := s.tx.CreateMoveLine(ctx, line); err != nil {
		return NewStorageError("create_move_line", "移動明細の作成に失敗しました", err)
	}
	return nil
}

// refreshState recomputes the reservation state of an open move and stores it
func (s *Session) refreshState(ctx context.Context, move *Move) error {
	switch move.State {
	case MoveStateDraft, MoveStateDone, MoveStateCancel:
		return nil
	}
	product, err := s.product(ctx, move.ProductID)
	if err != nil {
		return err
	}
	lines, err := s.tx.MoveLines(ctx, move.ID)
	if err != nil {
		return err
	}

	reserved := reservedOf(lines)
	switch {
	case product.UoM.Compare(reserved, move.ProductUoMQty) >= 0:
		move.State = MoveStateAssigned
	case product.UoM.Compare(reserved, decimal.Zero) > 0:
		move.State = MoveStatePartiallyAvailable
	default:
		move.State = MoveStateConfirmed
	}
	if err := s.tx.UpdateMove(ctx, move); err != nil {
		return NewStorageError("update_move", "在庫移動の更新に失敗しました", err)
	}
	return nil
}

// releaseLine gives the reserved quantity of a line back to its quant
func (s *Session) releaseLine(ctx context.Context, line *MoveLine, qty decimal.Decimal) error {
	product, err := s.product(ctx, line.ProductID)
	if err != nil {
		return err
	}
	if product.UoM.Compare(qty, decimal.Zero) <= 0 {
		return nil
	}
	source, err := s.location(ctx, line.LocationID)
	if err != nil {
		return err
	}
	if shouldBypass(product, source) {
		return nil
	}
	_, err = s.UpdateReservedQuantity(ctx, line.SourceKey(), qty.Neg(), true)
	return err
}

// Unreserve releases every reservation of a move.
// Lines created by reservation disappear; lines created by demand are kept with nothing reserved.
// 在庫移動の引当をすべて解除する
func (s *Session) Unreserve(ctx context.Context, moveID int64) (*Move, error) {
	move, err := s.tx.GetMove(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if move.State == MoveStateDone || move.State == MoveStateCancel {
		return nil, NewBusinessRuleError("move_unreserve", "完了または取消済みの在庫移動は引当解除できません", moveContext(move))
	}

	if err := s.unreserveLines(ctx, move); err != nil {
		return nil, err
	}
	if move.State != MoveStateDraft {
		move.State = MoveStateConfirmed
	}
	if err := s.tx.UpdateMove(ctx, move); err != nil {
		return nil, NewStorageError("update_move", "在庫移動の更新に失敗しました", err)
	}

	s.logger().Info("在庫移動引当解除完了", zap.Int64("move_id", move.ID))
	return move, nil
}

func (s *Session) unreserveLines(ctx context.Context, move *Move) error {
	lines, err := s.tx.MoveLines(ctx, move.ID)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if err := s.releaseLine(ctx, l, l.ReservedQty); err != nil {
			return err
		}
		if l.Origin == LineOriginReservation && l.QtyDone.IsZero() {
			if err := s.tx.DeleteMoveLine(ctx, l.ID); err != nil {
				return NewStorageError("delete_move_line", "移動明細の削除に失敗しました", err)
			}
			continue
		}
		l.ReservedQty = decimal.Zero
		if err := s.tx.UpdateMoveLine(ctx, l); err != nil {
			return NewStorageError("update_move_line", "移動明細の更新に失敗しました", err)
		}
	}
	return nil
}

// Cancel releases the reservations of a move and cancels it
// 在庫移動を取り消す
func (s *Session) Cancel(ctx context.Context, moveID int64) (*Move, error) {
	move, err := s.tx.GetMove(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if move.State == MoveStateDone {
		return nil, NewBusinessRuleError("move_cancel", "完了済みの在庫移動は取り消せません", moveContext(move))
	}
	if move.State == MoveStateCancel {
		return move, nil
	}

	if err := s.unreserveLines(ctx, move); err != nil {
		return nil, err
	}
	move.State = MoveStateCancel
	if err := s.tx.UpdateMove(ctx, move); err != nil {
		return nil, NewStorageError("update_move", "在庫移動の更新に失敗しました", err)
	}
	return move, nil
}

// AddMoveLine adds a demand line to an open move and reserves strictly what its bucket can give
// 在庫移動に明細を追加し、指定バケットから厳密に引き当てる
func (s *Session) AddMoveLine(ctx context.Context, moveID int64, in MoveLineInput) (*MoveLine, error) {
	move, err := s.openMove(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if in.QtyDone.IsNegative() {
		return nil, NewValidationError("qty_done", "数量は正の値である必要があります", in.QtyDone.String())
	}
	product, err := s.product(ctx, move.ProductID)
	if err != nil {
		return nil, err
	}

	line := &MoveLine{
		MoveID:          move.ID,
		CompanyID:       move.CompanyID,
		ProductID:       move.ProductID,
		DemandQty:       in.QtyDone,
		ReservedQty:     decimal.Zero,
		QtyDone:         in.QtyDone,
		LocationID:      nonZero(in.LocationID, move.LocationID),
		LocationDestID:  nonZero(in.LocationDestID, move.LocationDestID),
		LotID:           in.LotID,
		PackageID:       in.PackageID,
		ResultPackageID: in.ResultPackageID,
		OwnerID:         in.OwnerID,
		Origin:          LineOriginDemand,
	}
	if err := s.ensureLineInMove(ctx, move, line); err != nil {
		return nil, err
	}

	reserved, err := s.reserveLineStrict(ctx, product, line, in.QtyDone)
	if err != nil {
		return nil, err
	}
	line.ReservedQty = reserved

	if err := s.tx.CreateMoveLine(ctx, line); err != nil {
		return nil, NewStorageError("create_move_line", "移動明細の作成に失敗しました", err)
	}
	if err := s.refreshState(ctx, move); err != nil {
		return nil, err
	}
	return line, nil
}

// reserveLineStrict reserves up to qty on exactly the bucket of the line and returns what was taken
func (s *Session) reserveLineStrict(ctx context.Context, product *Product, line *MoveLine, qty decimal.Decimal) (decimal.Decimal, error) {
	if product.UoM.Compare(qty, decimal.Zero) <= 0 {
		return decimal.Zero, nil
	}
	source, err := s.location(ctx, line.LocationID)
	if err != nil {
		return decimal.Zero, err
	}
	if shouldBypass(product, source) {
		return qty, nil
	}

	available, err := s.GetAvailableQuantity(ctx, line.SourceKey(), true, false)
	if err != nil {
		return decimal.Zero, err
	}
	take := minDecimal(qty, available)
	if product.UoM.Compare(take, decimal.Zero) <= 0 {
		return decimal.Zero, nil
	}
	if _, err := s.UpdateReservedQuantity(ctx, line.SourceKey(), take, true); err != nil {
		return decimal.Zero, err
	}
	return take, nil
}

// EditMoveLine changes the done quantity, the bucket or the destination of a line.
// Changing lot, package or owner moves the reservation to the new bucket.
// When the line ends up with 0 < done < reserved it is split: the excess reservation is
// released and a remainder line carries the undone demand. The remainder keeps the bucket
// only when the edit did not change it, and keeps the previous destination.
// It returns the remainder line (nil without split) and the serial number advisory.
// 移動明細を編集し、必要に応じて分割する
func (s *Session) EditMoveLine(ctx context.Context, lineID int64, edit MoveLineEdit) (*MoveLine, SerialCheckResult, error) {
	var advisory SerialCheckResult

	line, err := s.tx.GetMoveLine(ctx, lineID)
	if err != nil {
		return nil, advisory, err
	}
	move, err := s.openMove(ctx, line.MoveID)
	if err != nil {
		return nil, advisory, err
	}
	product, err := s.product(ctx, line.ProductID)
	if err != nil {
		return nil, advisory, err
	}
	if edit.QtyDone != nil && edit.QtyDone.IsNegative() {
		return nil, advisory, NewValidationError("qty_done", "数量は正の値である必要があります", edit.QtyDone.String())
	}

	oldKey := line.SourceKey()
	oldDest := line.LocationDestID
	newKey := oldKey
	if edit.LotID != nil {
		newKey.LotID = *edit.LotID
	}
	if edit.PackageID != nil {
		newKey.PackageID = *edit.PackageID
	}
	if edit.OwnerID != nil {
		newKey.OwnerID = *edit.OwnerID
	}
	homogeneous := newKey == oldKey

	if !homogeneous {
		reserved := line.ReservedQty
		if err := s.releaseLine(ctx, line, reserved); err != nil {
			return nil, advisory, err
		}
		line.LotID = newKey.LotID
		line.PackageID = newKey.PackageID
		line.OwnerID = newKey.OwnerID
		taken, err := s.reserveLineStrict(ctx, product, line, reserved)
		if err != nil {
			return nil, advisory, err
		}
		line.ReservedQty = taken
	}

	if edit.QtyDone != nil {
		line.QtyDone = *edit.QtyDone
	}
	destChanged := edit.LocationDestID != nil && *edit.LocationDestID != oldDest
	if destChanged {
		line.LocationDestID = *edit.LocationDestID
	}
	if edit.ResultPackageID != nil {
		line.ResultPackageID = *edit.ResultPackageID
	}

	var remainder *MoveLine
	uom := product.UoM
	if (edit.QtyDone != nil || destChanged) &&
		uom.Compare(line.QtyDone, decimal.Zero) > 0 &&
		uom.Compare(line.QtyDone, line.ReservedQty) < 0 {

		excess := line.ReservedQty.Sub(line.QtyDone)
		if err := s.releaseLine(ctx, line, excess); err != nil {
			return nil, advisory, err
		}
		line.ReservedQty = line.QtyDone

		demand := maxDecimal(line.DemandQty, line.QtyDone.Add(excess))
		remainder = &MoveLine{
			MoveID:         line.MoveID,
			CompanyID:      line.CompanyID,
			ProductID:      line.ProductID,
			DemandQty:      demand.Sub(line.QtyDone),
			ReservedQty:    decimal.Zero,
			QtyDone:        decimal.Zero,
			LocationID:     line.LocationID,
			LocationDestID: oldDest,
			Origin:         LineOriginDemand,
		}
		if homogeneous {
			remainder.LotID = line.LotID
			remainder.PackageID = line.PackageID
			remainder.OwnerID = line.OwnerID
		}
		line.DemandQty = line.QtyDone
		if err := s.tx.CreateMoveLine(ctx, remainder); err != nil {
			return nil, advisory, NewStorageError("create_move_line", "移動明細の作成に失敗しました", err)
		}
	}

	if err := s.tx.UpdateMoveLine(ctx, line); err != nil {
		return nil, advisory, NewStorageError("update_move_line", "移動明細の更新に失敗しました", err)
	}
	if err := s.refreshState(ctx, move); err != nil {
		return nil, advisory, err
	}

	if product.Tracking == TrackingSerial && line.LotID != 0 && line.LotID != oldKey.LotID {
		advisory, err = s.CheckSerialNumber(ctx, SerialCheckRequest{
			ProductID:           product.ID,
			LotID:               line.LotID,
			SourceLocationID:    line.LocationID,
			ReferenceLocationID: move.LocationID,
		})
		if err != nil {
			return nil, advisory, err
		}
	}

	return remainder, advisory, nil
}

// Done posts the done quantities of a move to the quants.
// The undone remainder becomes a confirmed backorder unless opts.CancelBackorder is set.
// Destination moves waiting on this move are assigned afterwards.
// 在庫移動を完了し、実績数量をクォントに反映する
func (s *Session) Done(ctx context.Context, moveID int64, opts DoneOptions) (*Move, error) {
	move, err := s.tx.GetMove(ctx, moveID)
	if err != nil {
		return nil, err
	}
	switch move.State {
	case MoveStateDone, MoveStateCancel:
		return nil, NewBusinessRuleError("move_done", "完了または取消済みの在庫移動は完了できません", moveContext(move))
	case MoveStateDraft:
		move.State = MoveStateConfirmed
	}

	product, err := s.product(ctx, move.ProductID)
	if err != nil {
		return nil, err
	}
	lines, err := s.tx.MoveLines(ctx, move.ID)
	if err != nil {
		return nil, err
	}
	if !move.IsInventory {
		if err := validateDoneLines(product, lines); err != nil {
			return nil, err
		}
	}

	done := make([]*MoveLine, 0, len(lines))
	for _, l := range lines {
		if product.UoM.Compare(l.QtyDone, decimal.Zero) > 0 {
			done = append(done, l)
			continue
		}
		if err := s.releaseLine(ctx, l, l.ReservedQty); err != nil {
			return nil, err
		}
		if err := s.tx.DeleteMoveLine(ctx, l.ID); err != nil {
			return nil, NewStorageError("delete_move_line", "移動明細の削除に失敗しました", err)
		}
	}
	if len(done) == 0 {
		return nil, NewBusinessRuleError("move_done", "実績数量のない在庫移動は完了できません", moveContext(move))
	}

	total := decimal.Zero
	for _, l := range done {
		if err := s.postLine(ctx, product, l); err != nil {
			return nil, err
		}
		total = total.Add(l.QtyDone)
	}

	var backorder *Move
	if product.UoM.Compare(total, move.ProductUoMQty) < 0 {
		remaining := move.ProductUoMQty.Sub(total)
		move.ProductUoMQty = total
		if !opts.CancelBackorder {
			backorder = &Move{
				Reference:      move.Reference,
				CompanyID:      move.CompanyID,
				ProductID:      move.ProductID,
				ProductUoMQty:  remaining,
				LocationID:     move.LocationID,
				LocationDestID: move.LocationDestID,
				OwnerID:        move.OwnerID,
				State:          MoveStateConfirmed,
				OriginMoveIDs:  append([]int64(nil), move.OriginMoveIDs...),
				CreatedAt:      s.now,
			}
			if err := s.tx.CreateMove(ctx, backorder); err != nil {
				return nil, NewStorageError("create_move", "バックオーダーの作成に失敗しました", err)
			}
		}
	}

	doneAt := s.now
	move.State = MoveStateDone
	move.DoneAt = &doneAt
	if err := s.tx.UpdateMove(ctx, move); err != nil {
		return nil, NewStorageError("update_move", "在庫移動の更新に失敗しました", err)
	}

	if err := s.QuantTasks(ctx); err != nil {
		return nil, err
	}

	var backorderID int64
	if backorder != nil {
		backorderID = backorder.ID
	}
	s.emitMoveDone(move, total, backorderID)
	s.logger().Info("在庫移動完了",
		zap.Int64("move_id", move.ID),
		zap.String("reference", move.Reference),
		zap.String("quantity", total.String()),
		zap.Int64("backorder_id", backorderID),
	)

	if backorder != nil {
		if _, err := s.Assign(ctx, backorder.ID); err != nil {
			return nil, err
		}
	}
	dests, err := s.tx.DestinationMoves(ctx, move.ID)
	if err != nil {
		return nil, err
	}
	for _, d := range dests {
		if d.State != MoveStateConfirmed && d.State != MoveStatePartiallyAvailable {
			continue
		}
		if _, err := s.Assign(ctx, d.ID); err != nil {
			return nil, err
		}
	}

	return backorder, nil
}

// postLine moves the done quantity of a line from its source bucket to its destination bucket
// 明細の実績数量を移動元から移動先へ反映する
func (s *Session) postLine(ctx context.Context, product *Product, line *MoveLine) error {
	source, err := s.location(ctx, line.LocationID)
	if err != nil {
		return err
	}
	dest, err := s.location(ctx, line.LocationDestID)
	if err != nil {
		return err
	}

	if err := s.releaseLine(ctx, line, line.ReservedQty); err != nil {
		return err
	}

	var inDate *time.Time
	if source.KeepsQuants(product) {
		available, effective, err := s.UpdateAvailableQuantity(ctx, line.SourceKey(), line.QtyDone.Neg(), nil)
		if err != nil {
			return err
		}
		inDate = &effective

		if line.LotID != 0 && available.IsNegative() {
			if err := s.compensateNegativeLot(ctx, line); err != nil {
				return err
			}
		}
	}

	if dest.KeepsQuants(product) {
		if _, _, err := s.UpdateAvailableQuantity(ctx, line.DestinationKey(), line.QtyDone, inDate); err != nil {
			return err
		}
	}

	line.ReservedQty = decimal.Zero
	if err := s.tx.UpdateMoveLine(ctx, line); err != nil {
		return NewStorageError("update_move_line", "移動明細の更新に失敗しました", err)
	}
	return nil
}

// compensateNegativeLot converts untracked stock of the source bucket into the lot
// that went negative
// ロットがマイナスになった場合、ロットなし在庫で補填する
func (s *Session) compensateNegativeLot(ctx context.Context, line *MoveLine) error {
	untrackedKey := line.SourceKey()
	untrackedKey.LotID = 0

	untracked, err := s.GetAvailableQuantity(ctx, untrackedKey, true, false)
	if err != nil {
		return err
	}
	if !untracked.IsPositive() {
		return nil
	}

	take := minDecimal(untracked, line.QtyDone.Abs())
	if _, _, err := s.UpdateAvailableQuantity(ctx, untrackedKey, take.Neg(), nil); err != nil {
		return err
	}
	if _, _, err := s.UpdateAvailableQuantity(ctx, line.SourceKey(), take, nil); err != nil {
		return err
	}
	s.logger().Info("ロットなし在庫でロットのマイナスを補填しました",
		zap.Int64("lot_id", line.LotID),
		zap.String("quantity", take.String()),
	)
	return nil
}

// openMove returns a move that can still be edited
func (s *Session) openMove(ctx context.Context, moveID int64) (*Move, error) {
	move, err := s.tx.GetMove(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if move.State == MoveStateDone || move.State == MoveStateCancel {
		return nil, NewBusinessRuleError("move_edit", "完了または取消済みの在庫移動は編集できません", moveContext(move))
	}
	return move, nil
}

// ensureLineInMove checks the line source is inside the move source
func (s *Session) ensureLineInMove(ctx context.Context, move *Move, line *MoveLine) error {
	inside, err := s.isChildOf(ctx, line.LocationID, move.LocationID)
	if err != nil {
		return err
	}
	if !inside {
		return NewValidationError("location_id", "明細の移動元は在庫移動の移動元配下である必要があります", fmt.Sprintf("%d", line.LocationID))
	}
	return nil
}

// validateDoneLines checks lot requirements of the lines about to be posted
// 完了前にロット/シリアルの要件を確認する
func validateDoneLines(product *Product, lines []*MoveLine) error {
	if product.Tracking == TrackingNone {
		return nil
	}
	one := decimal.NewFromInt(1)
	seen := make(map[int64]bool)
	for _, l := range lines {
		if l.QtyDone.IsZero() {
			continue
		}
		if l.LotID == 0 {
			return NewValidationError("lot_id", fmt.Sprintf("製品 %s にはロット/シリアル番号が必要です", product.DisplayName()), "")
		}
		if product.Tracking != TrackingSerial {
			continue
		}
		if product.UoM.Compare(l.QtyDone, one) > 0 {
			return NewValidationError("qty_done", fmt.Sprintf("製品 %s のシリアル番号ごとの数量は1である必要があります", product.DisplayName()), l.QtyDone.String())
		}
		if seen[l.LotID] {
			return NewValidationError("lot_id", fmt.Sprintf("製品 %s のシリアル番号が重複しています", product.DisplayName()), fmt.Sprintf("%d", l.LotID))
		}
		seen[l.LotID] = true
	}
	return nil
}

func reservedOf(lines []*MoveLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.ReservedQty)
	}
	return total
}

func moveContext(move *Move) string {
	return fmt.Sprintf("在庫移動ID: %d, 参照: %s, 状態: %s", move.ID, move.Reference, move.State)
}

func nonZero(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}
