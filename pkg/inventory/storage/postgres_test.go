package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiQuant/pkg/inventory"
)

var quantRowColumns = []string{
	"id", "company_id", "product_id", "location_id", "lot_id", "package_id", "owner_id",
	"quantity", "reserved_quantity", "in_date", "inventory_quantity", "inventory_quantity_set",
}

// newMockTx はsqlmockでトランザクションを開始する
func newMockTx(t *testing.T) (inventory.Tx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewPostgreSQLStorageFromDB(sqlx.NewDb(db, "postgres"), zap.NewNop())
	mock.ExpectBegin()
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	return tx, mock
}

// TestPostgresTx_LockQuant は行ロックの取得と競合のテスト
func TestPostgresTx_LockQuant(t *testing.T) {
	tx, mock := newMockTx(t)
	ctx := context.Background()
	inDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	query := regexp.QuoteMeta("FROM stock_quants q WHERE q.id = $1 FOR UPDATE NOWAIT")
	mock.ExpectQuery(query).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(quantRowColumns).
			AddRow(int64(7), int64(1), int64(2), int64(3), int64(4), nil, nil, "5.5", "1", inDate, "0", false))
	mock.ExpectQuery(query).WithArgs(int64(8)).
		WillReturnError(&pq.Error{Code: pgLockNotAvailable, Message: "could not obtain lock on row"})
	mock.ExpectQuery(query).WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(quantRowColumns))
	mock.ExpectRollback()

	// テスト実行
	quant, err := tx.LockQuant(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(4), quant.LotID)
	assert.Zero(t, quant.PackageID)
	assert.Zero(t, quant.OwnerID)
	assert.Equal(t, "5.5", quant.Quantity.String())
	assert.True(t, quant.InDate.Equal(inDate))

	_, err = tx.LockQuant(ctx, 8)
	assert.ErrorIs(t, err, inventory.ErrLockNotAvailable)

	_, err = tx.LockQuant(ctx, 9)
	assert.ErrorIs(t, err, inventory.ErrQuantNotFound)

	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresTx_Savepoints はセーブポイントSQLのテスト
func TestPostgresTx_Savepoints(t *testing.T) {
	tx, mock := newMockTx(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`SAVEPOINT "quant_sp_1"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ROLLBACK TO SAVEPOINT "quant_sp_1"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`RELEASE SAVEPOINT "quant_sp_1"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, tx.Savepoint(ctx, "quant_sp_1"))
	require.NoError(t, tx.RollbackToSavepoint(ctx, "quant_sp_1"))
	require.NoError(t, tx.ReleaseSavepoint(ctx, "quant_sp_1"))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresTx_DuplicateQuantGroups は重複クォント検索のテスト
func TestPostgresTx_DuplicateQuantGroups(t *testing.T) {
	tx, mock := newMockTx(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT array_agg(id ORDER BY id) AS ids")).
		WillReturnRows(sqlmock.NewRows([]string{"ids"}).
			AddRow("{1,2}").
			AddRow("{5,9,12}"))

	groups, err := tx.DuplicateQuantGroups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1, 2}, {5, 9, 12}}, groups)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresTx_DeleteZeroQuants はゼロクォント一括削除のテスト
func TestPostgresTx_DeleteZeroQuants(t *testing.T) {
	tx, mock := newMockTx(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM stock_quants WHERE round(quantity, $1) = 0 AND round(reserved_quantity, $1) = 0")).
		WithArgs(int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := tx.DeleteZeroQuants(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresTx_UpdateQuantNotFound は更新対象がない場合のテスト
func TestPostgresTx_UpdateQuantNotFound(t *testing.T) {
	tx, mock := newMockTx(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE stock_quants")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE stock_quants")).
		WillReturnError(&pq.Error{Code: pgUniqueViolation, Message: "duplicate key"})

	err := tx.UpdateQuant(context.Background(), &inventory.Quant{ID: 1})
	assert.ErrorIs(t, err, inventory.ErrQuantNotFound)

	err = tx.UpdateQuant(context.Background(), &inventory.Quant{ID: 2})
	assert.ErrorIs(t, err, inventory.ErrDuplicateBucket)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresTx_GetProduct は製品取得のテスト
func TestPostgresTx_GetProduct(t *testing.T) {
	tx, mock := newMockTx(t)
	ctx := context.Background()
	productColumns := []string{"id", "name", "default_code", "type", "tracking", "category_id", "uom_id", "uom_name", "uom_rounding"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM products p")).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(int64(1), "Widget", "W-001", "product", "lot", nil, int64(3), "Units", "0.01"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM product_inventory_locations")).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"company_id", "location_id"}).AddRow(int64(1), int64(40)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM products p")).WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(productColumns))

	product, err := tx.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "[W-001] Widget", product.DisplayName())
	assert.Equal(t, inventory.TrackingLot, product.Tracking)
	assert.Zero(t, product.CategoryID)
	assert.Equal(t, "0.01", product.UoM.Rounding.String())
	location, ok := product.InventoryLocation(1)
	assert.True(t, ok)
	assert.Equal(t, int64(40), location)

	_, err = tx.GetProduct(ctx, 42)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresTx_CreateLotDuplicate はロット番号重複のテスト
func TestPostgresTx_CreateLotDuplicate(t *testing.T) {
	tx, mock := newMockTx(t)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO stock_lots")).
		WillReturnError(&pq.Error{Code: pgUniqueViolation})

	err := tx.CreateLot(context.Background(), &inventory.Lot{Name: "LOT-1", ProductID: 1, CompanyID: 1})
	assert.ErrorIs(t, err, inventory.ErrDuplicateLot)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestBuildQuantSearch はクォント検索SQLの組み立てテスト
func TestBuildQuantSearch(t *testing.T) {
	t.Run("厳密", func(t *testing.T) {
		query, args := buildQuantSearch(inventory.QuantFilter{
			ProductID:   1,
			CompanyID:   2,
			LocationIDs: []int64{3, 4},
			PackageID:   5,
			Strict:      true,
		})
		assert.Contains(t, query, "q.product_id = $1 AND q.company_id = $2 AND q.location_id = ANY($3)")
		assert.Contains(t, query, "q.lot_id IS NULL AND q.package_id = $4 AND q.owner_id IS NULL")
		assert.Len(t, args, 4)
	})

	t.Run("非厳密", func(t *testing.T) {
		query, args := buildQuantSearch(inventory.QuantFilter{ProductID: 1, LotID: 6})
		assert.Contains(t, query, "q.product_id = $1 AND q.lot_id = $2")
		assert.NotContains(t, query, "IS NULL")
		assert.Len(t, args, 2)
	})

	t.Run("用途", func(t *testing.T) {
		query, args := buildQuantSearch(inventory.QuantFilter{
			Usages:  []inventory.LocationUsage{inventory.UsageInternal, inventory.UsageTransit},
			NonZero: true,
		})
		assert.Contains(t, query, "JOIN stock_locations l ON l.id = q.location_id")
		assert.Contains(t, query, "l.usage = ANY($1) AND q.quantity <> 0")
		assert.Len(t, args, 1)
	})

	t.Run("条件なし", func(t *testing.T) {
		query, args := buildQuantSearch(inventory.QuantFilter{})
		assert.Contains(t, query, "WHERE TRUE ORDER BY q.id")
		assert.Empty(t, args)
	})
}

// TestMapError はドライバエラーの変換テスト
func TestMapError(t *testing.T) {
	assert.ErrorIs(t, mapError(&pq.Error{Code: pgLockNotAvailable}), inventory.ErrLockNotAvailable)
	assert.ErrorIs(t, mapError(&pq.Error{Code: pgUniqueViolation}), inventory.ErrDuplicateBucket)

	other := errors.New("connection reset")
	assert.Equal(t, other, mapError(other))
}

// TestPostgresTx_PatchQuant は予約列のみの相対更新のテスト
func TestPostgresTx_PatchQuant(t *testing.T) {
	tx, mock := newMockTx(t)
	ctx := context.Background()
	inDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE stock_quants AS q SET reserved_quantity = q.reserved_quantity + $2 WHERE q.id = $1 RETURNING q.id")).
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(quantRowColumns).
			AddRow(int64(7), int64(1), int64(2), int64(3), nil, nil, nil, "15", "3", inDate, "0", false))
	mock.ExpectQuery(regexp.QuoteMeta("SET reserved_quantity = q.reserved_quantity + $2, package_id = $3, inventory_quantity = 0, inventory_quantity_set = FALSE WHERE q.id = $1")).
		WithArgs(int64(8), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(quantRowColumns))

	// テスト実行
	quant, err := tx.PatchQuant(ctx, 7, inventory.QuantPatch{ReservedDelta: decimal.NewFromInt(3)})
	require.NoError(t, err)
	assert.Equal(t, "15", quant.Quantity.String())
	assert.Equal(t, "3", quant.ReservedQuantity.String())

	var none int64
	_, err = tx.PatchQuant(ctx, 8, inventory.QuantPatch{PackageID: &none, ClearInventory: true})
	assert.ErrorIs(t, err, inventory.ErrQuantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildQuantPatch(t *testing.T) {
	counted := decimal.NewFromInt(4)
	query, args := buildQuantPatch(5, inventory.QuantPatch{InventoryQuantity: &counted})

	assert.Contains(t, query, "reserved_quantity = q.reserved_quantity + $2")
	assert.Contains(t, query, "inventory_quantity = $3, inventory_quantity_set = TRUE")
	assert.NotContains(t, query, " quantity =")
	assert.NotContains(t, query, "package_id =")
	require.Len(t, args, 3)
	assert.Equal(t, int64(5), args[0])
	assert.Equal(t, counted, args[2])
}
