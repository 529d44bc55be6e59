package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// QuantEngine defines the stable contracts of the quant engine
// クォントエンジンの公開インターフェースを定義
type QuantEngine interface {
	// 在庫照会 - Stock inquiry
	Gather(ctx context.Context, companyID int64, key QuantKey, strict bool) ([]*Quant, error)
	GetAvailableQuantity(ctx context.Context, companyID int64, key QuantKey, strict, allowNegative bool) (decimal.Decimal, error)

	// 台帳操作 - Ledger operations
	UpdateAvailableQuantity(ctx context.Context, companyID int64, key QuantKey, delta decimal.Decimal, inDate *time.Time) (decimal.Decimal, time.Time, error)
	UpdateReservedQuantity(ctx context.Context, companyID int64, key QuantKey, delta decimal.Decimal, strict bool) ([]Reservation, error)

	// 棚卸・検証 - Inventory adjustment and validation
	ApplyInventory(ctx context.Context, companyID, quantID int64, counted decimal.Decimal) (*Move, error)
	CheckSerialNumber(ctx context.Context, companyID int64, req SerialCheckRequest) (SerialCheckResult, error)

	// メンテナンス - Maintenance
	QuantTasks(ctx context.Context, companyID int64) error
}

// QuantFilter is the typed query used to search quants
// クォント検索条件
type QuantFilter struct {
	ProductID int64 // 0 の場合は製品で絞り込まない
	CompanyID int64 // 0 の場合は会社で絞り込まない

	// LocationIDs restricts to the given locations; empty means any location
	LocationIDs []int64

	// Usages restricts to locations of the given usages; empty means any usage
	Usages []LocationUsage

	LotID     int64
	PackageID int64
	OwnerID   int64

	// Strict applies LotID, PackageID and OwnerID as equality filters even when 0.
	// Otherwise a 0 value means no constraint.
	Strict bool

	// NonZero excludes quants whose quantity is exactly zero
	NonZero bool
}

// QuantPatch names the quant columns a write changes.
// Columns not named keep the value committed by other transactions.
// クォントの部分更新内容
type QuantPatch struct {
	// ReservedDelta is added to the stored reserved quantity
	ReservedDelta decimal.Decimal

	// PackageID replaces the package when not nil; 0 removes it
	PackageID *int64

	// InventoryQuantity records a counted quantity when not nil
	InventoryQuantity *decimal.Decimal
	// ClearInventory resets the counted quantity
	ClearInventory bool
}

// Storage defines the interface for data persistence layer
// データ永続化層のインターフェースを定義
type Storage interface {
	// Transaction management
	Begin(ctx context.Context) (Tx, error)

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// Tx is a unit of work against the storage.
// Every engine operation runs inside exactly one Tx.
// ストレージに対するトランザクション
type Tx interface {
	Commit() error
	Rollback() error

	// Savepoints contain failures of a sub-operation without aborting the Tx
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error

	// Master data
	GetProduct(ctx context.Context, productID int64) (*Product, error)
	GetCategory(ctx context.Context, categoryID int64) (*Category, error)
	GetLocation(ctx context.Context, locationID int64) (*Location, error)
	// ChildLocationIDs returns the location and all its descendants
	ChildLocationIDs(ctx context.Context, locationID int64) ([]int64, error)
	GetLot(ctx context.Context, lotID int64) (*Lot, error)
	FindLot(ctx context.Context, productID int64, name string, companyID int64) (*Lot, error)
	CreateLot(ctx context.Context, lot *Lot) error
	GetPackage(ctx context.Context, packageID int64) (*Package, error)
	PackageQuants(ctx context.Context, packageID int64) ([]*Quant, error)

	// Quants
	SearchQuants(ctx context.Context, filter QuantFilter) ([]*Quant, error)
	GetQuant(ctx context.Context, quantID int64) (*Quant, error)
	// LockQuant takes a row lock without waiting.
	// It returns ErrLockNotAvailable when another transaction holds the row.
	LockQuant(ctx context.Context, quantID int64) (*Quant, error)
	CreateQuant(ctx context.Context, quant *Quant) error
	// UpdateQuant writes every column; callers hold the row lock from LockQuant
	UpdateQuant(ctx context.Context, quant *Quant) error
	// PatchQuant writes only the columns named by patch, waiting for the row lock,
	// and returns the row as stored afterwards.
	PatchQuant(ctx context.Context, quantID int64, patch QuantPatch) (*Quant, error)
	DeleteQuants(ctx context.Context, quantIDs []int64) error
	// DuplicateQuantGroups returns ids of quants sharing a bucket, ascending within a group
	DuplicateQuantGroups(ctx context.Context) ([][]int64, error)
	// DeleteZeroQuants deletes quants whose quantity and reserved quantity round to zero
	DeleteZeroQuants(ctx context.Context, precision int32) (int64, error)

	// Moves
	CreateMove(ctx context.Context, move *Move) error
	GetMove(ctx context.Context, moveID int64) (*Move, error)
	UpdateMove(ctx context.Context, move *Move) error
	// DestinationMoves returns the moves listing moveID as an origin
	DestinationMoves(ctx context.Context, moveID int64) ([]*Move, error)
	CreateMoveLine(ctx context.Context, line *MoveLine) error
	GetMoveLine(ctx context.Context, lineID int64) (*MoveLine, error)
	UpdateMoveLine(ctx context.Context, line *MoveLine) error
	DeleteMoveLine(ctx context.Context, lineID int64) error
	MoveLines(ctx context.Context, moveID int64) ([]*MoveLine, error)
	// MoveLinesByPackage returns the lines of moves not yet done or cancelled using the package as source
	MoveLinesByPackage(ctx context.Context, packageID int64) ([]*MoveLine, error)
}

// EventPublisher defines interface for publishing inventory events
// 在庫イベント発行のインターフェースを定義
type EventPublisher interface {
	PublishQuantUpdated(ctx context.Context, event QuantUpdatedEvent) error
	PublishMoveDone(ctx context.Context, event MoveDoneEvent) error
}

// Events for inventory operations
// 在庫操作のイベント定義

// QuantUpdatedEvent represents an on-hand change of a bucket
// バケットの手持数量変更イベントを表現
type QuantUpdatedEvent struct {
	EventID   string          `json:"event_id"`
	CompanyID int64           `json:"company_id"`
	Key       QuantKey        `json:"key"`
	Delta     decimal.Decimal `json:"delta"`
	Available decimal.Decimal `json:"available"`
	InDate    time.Time       `json:"in_date"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"user_id"`
}

// MoveDoneEvent represents a completed stock move
// 在庫移動完了イベントを表現
type MoveDoneEvent struct {
	EventID        string          `json:"event_id"`
	MoveID         int64           `json:"move_id"`
	Reference      string          `json:"reference"`
	ProductID      int64           `json:"product_id"`
	LocationID     int64           `json:"location_id"`
	LocationDestID int64           `json:"location_dest_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	BackorderID    int64           `json:"backorder_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	UserID         string          `json:"user_id"`
}
