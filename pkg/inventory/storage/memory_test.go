package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiQuant/pkg/inventory"
)

func newQuant(locationID int64, qty string) *inventory.Quant {
	return &inventory.Quant{
		CompanyID:  1,
		ProductID:  100,
		LocationID: locationID,
		Quantity:   decimal.RequireFromString(qty),
		InDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// commitQuant はクォントを作成してコミットする
func commitQuant(t *testing.T, s *MemoryStorage, q *inventory.Quant) int64 {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateQuant(ctx, q))
	require.NoError(t, tx.Commit())
	return q.ID
}

func TestMemoryStorage_LockQuantNoWait(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()
	id := commitQuant(t, s, newQuant(10, "5"))

	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)

	_, err = tx1.LockQuant(ctx, id)
	require.NoError(t, err)

	// 同一トランザクションでの再ロックは成功
	_, err = tx1.LockQuant(ctx, id)
	assert.NoError(t, err)

	_, err = tx2.LockQuant(ctx, id)
	assert.ErrorIs(t, err, inventory.ErrLockNotAvailable)

	require.NoError(t, tx1.Commit())

	quant, err := tx2.LockQuant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "5", quant.Quantity.String())
	require.NoError(t, tx2.Rollback())

	_, err = tx2.LockQuant(ctx, 9999)
	assert.ErrorIs(t, err, ErrTxClosed)
}

func TestMemoryStorage_UpdateWaitsForLock(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()
	id := commitQuant(t, s, newQuant(10, "5"))

	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	locked, err := tx1.LockQuant(ctx, id)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		tx2, err := s.Begin(ctx)
		if err != nil {
			done <- err
			return
		}
		q, err := tx2.GetQuant(ctx, id)
		if err != nil {
			done <- err
			return
		}
		q.ReservedQuantity = decimal.NewFromInt(1)
		if err := tx2.UpdateQuant(ctx, q); err != nil {
			done <- err
			return
		}
		done <- tx2.Commit()
	}()

	select {
	case err := <-done:
		t.Fatalf("ロック解放前に更新が完了しました: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	locked.Quantity = decimal.NewFromInt(8)
	require.NoError(t, tx1.UpdateQuant(ctx, locked))
	require.NoError(t, tx1.Commit())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ロック解放後も更新が完了しません")
	}

	quants := s.AllQuants()
	require.Len(t, quants, 1)
	assert.Equal(t, "1", quants[0].ReservedQuantity.String())
}

func TestMemoryStorage_Savepoint(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()
	id := commitQuant(t, s, newQuant(10, "5"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.Savepoint(ctx, "quant_sp_1"))
	q, err := tx.LockQuant(ctx, id)
	require.NoError(t, err)
	q.Quantity = decimal.NewFromInt(1)
	require.NoError(t, tx.UpdateQuant(ctx, q))
	require.NoError(t, tx.CreateQuant(ctx, newQuant(11, "3")))
	require.Len(t, s.AllQuants(), 2)

	require.NoError(t, tx.RollbackToSavepoint(ctx, "quant_sp_1"))
	quants := s.AllQuants()
	require.Len(t, quants, 1)
	assert.Equal(t, "5", quants[0].Quantity.String())

	// ロールバックで行ロックも解放される
	other, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = other.LockQuant(ctx, id)
	assert.NoError(t, err)
	require.NoError(t, other.Rollback())

	require.NoError(t, tx.ReleaseSavepoint(ctx, "quant_sp_1"))
	var storageErr *inventory.StorageError
	assert.ErrorAs(t, tx.ReleaseSavepoint(ctx, "quant_sp_1"), &storageErr)
	assert.ErrorAs(t, tx.RollbackToSavepoint(ctx, "quant_sp_9"), &storageErr)
	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Commit(), ErrTxClosed)
}

func TestMemoryStorage_RollbackDiscardsWrites(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()
	id := commitQuant(t, s, newQuant(10, "5"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateQuant(ctx, newQuant(11, "2")))
	require.NoError(t, tx.DeleteQuants(ctx, []int64{id}))
	require.NoError(t, tx.Rollback())

	quants := s.AllQuants()
	require.Len(t, quants, 1)
	assert.Equal(t, id, quants[0].ID)
}

func TestMemoryStorage_ChildLocationIDs(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()

	root := &inventory.Location{Name: "WH", Usage: inventory.UsageView, CompanyID: 1}
	require.NoError(t, s.CreateLocation(ctx, root))
	stock := &inventory.Location{Name: "WH/Stock", Usage: inventory.UsageInternal, ParentID: root.ID, CompanyID: 1}
	require.NoError(t, s.CreateLocation(ctx, stock))
	shelf := &inventory.Location{Name: "WH/Stock/Shelf", Usage: inventory.UsageInternal, ParentID: stock.ID, CompanyID: 1}
	require.NoError(t, s.CreateLocation(ctx, shelf))
	other := &inventory.Location{Name: "Customers", Usage: inventory.UsageCustomer, CompanyID: 1}
	require.NoError(t, s.CreateLocation(ctx, other))

	assert.ErrorIs(t, s.CreateLocation(ctx, &inventory.Location{Name: "X", Usage: inventory.UsageInternal, ParentID: 999}), inventory.ErrLocationNotFound)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	ids, err := tx.ChildLocationIDs(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{root.ID, stock.ID, shelf.ID}, ids)

	ids, err = tx.ChildLocationIDs(ctx, shelf.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{shelf.ID}, ids)

	_, err = tx.ChildLocationIDs(ctx, 999)
	assert.ErrorIs(t, err, inventory.ErrLocationNotFound)
}

func TestMemoryStorage_Maintenance(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()

	a := commitQuant(t, s, newQuant(10, "5"))
	b := commitQuant(t, s, newQuant(10, "2"))
	commitQuant(t, s, newQuant(11, "1"))
	zero := commitQuant(t, s, newQuant(12, "0.0000001"))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	groups, err := tx.DuplicateQuantGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{a, b}}, groups)

	deleted, err := tx.DeleteZeroQuants(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	require.NoError(t, tx.Commit())

	for _, q := range s.AllQuants() {
		assert.NotEqual(t, zero, q.ID)
	}
	assert.Len(t, s.AllQuants(), 3)
}

func TestMemoryStorage_PatchQuantKeepsOtherColumns(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()
	id := commitQuant(t, s, newQuant(10, "10"))

	reader, err := s.Begin(ctx)
	require.NoError(t, err)
	stale, err := reader.GetQuant(ctx, id)
	require.NoError(t, err)

	// 別トランザクションが手持数量を更新してコミット
	writer, err := s.Begin(ctx)
	require.NoError(t, err)
	locked, err := writer.LockQuant(ctx, id)
	require.NoError(t, err)
	locked.Quantity = decimal.NewFromInt(15)
	require.NoError(t, writer.UpdateQuant(ctx, locked))
	require.NoError(t, writer.Commit())

	patched, err := reader.PatchQuant(ctx, stale.ID, inventory.QuantPatch{ReservedDelta: decimal.NewFromInt(3)})
	require.NoError(t, err)
	assert.Equal(t, "15", patched.Quantity.String())
	assert.Equal(t, "3", patched.ReservedQuantity.String())

	counted := decimal.NewFromInt(12)
	patched, err = reader.PatchQuant(ctx, id, inventory.QuantPatch{InventoryQuantity: &counted})
	require.NoError(t, err)
	assert.True(t, patched.InventoryQuantitySet)
	assert.Equal(t, "12", patched.InventoryQuantity.String())
	require.NoError(t, reader.Commit())

	quants := s.AllQuants()
	require.Len(t, quants, 1)
	assert.Equal(t, "15", quants[0].Quantity.String())
	assert.Equal(t, "3", quants[0].ReservedQuantity.String())

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.PatchQuant(ctx, 9999, inventory.QuantPatch{})
	assert.ErrorIs(t, err, inventory.ErrQuantNotFound)
	require.NoError(t, tx.Rollback())
}

func TestMemoryStorage_PatchQuantWaitsForLock(t *testing.T) {
	s := NewMemoryStorage(zap.NewNop())
	ctx := context.Background()
	id := commitQuant(t, s, newQuant(10, "5"))

	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	locked, err := tx1.LockQuant(ctx, id)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		tx2, err := s.Begin(ctx)
		if err != nil {
			done <- err
			return
		}
		if _, err := tx2.PatchQuant(ctx, id, inventory.QuantPatch{ReservedDelta: decimal.NewFromInt(2)}); err != nil {
			done <- err
			return
		}
		done <- tx2.Commit()
	}()

	select {
	case err := <-done:
		t.Fatalf("ロック解放前に更新が完了しました: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	locked.Quantity = decimal.NewFromInt(9)
	require.NoError(t, tx1.UpdateQuant(ctx, locked))
	require.NoError(t, tx1.Commit())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ロック解放後も更新が完了しません")
	}

	quants := s.AllQuants()
	require.Len(t, quants, 1)
	assert.Equal(t, "9", quants[0].Quantity.String())
	assert.Equal(t, "2", quants[0].ReservedQuantity.String())
}
