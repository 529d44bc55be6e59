// Package inventory provides the stock quant and reservation engine
package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocationUsage classifies a storage location
// ロケーションの用途区分
type LocationUsage string

const (
	UsageInternal   LocationUsage = "internal"   // 社内在庫
	UsageTransit    LocationUsage = "transit"    // 輸送中
	UsageSupplier   LocationUsage = "supplier"   // 仕入先
	UsageCustomer   LocationUsage = "customer"   // 顧客
	UsageInventory  LocationUsage = "inventory"  // 棚卸（仮想）
	UsageProduction LocationUsage = "production" // 製造
	UsageView       LocationUsage = "view"       // ビュー（在庫を持たない）
	UsageScrap      LocationUsage = "scrap"      // 廃棄
)

// RemovalStrategy defines the order in which quants are consumed
// クォントの払出順序を定義
type RemovalStrategy string

const (
	RemovalFIFO RemovalStrategy = "fifo" // 先入先出
	RemovalLIFO RemovalStrategy = "lifo" // 後入先出
)

// Tracking defines how a product is traced
// 製品の追跡方法
type Tracking string

const (
	TrackingNone   Tracking = "none"   // 追跡なし
	TrackingLot    Tracking = "lot"    // ロット追跡
	TrackingSerial Tracking = "serial" // シリアル追跡
)

// ProductType defines the stock behaviour of a product
// 製品の在庫区分
type ProductType string

const (
	ProductTypeStorable   ProductType = "product"    // 在庫品
	ProductTypeConsumable ProductType = "consumable" // 消耗品
	ProductTypeService    ProductType = "service"    // サービス
)

// Location represents a node of the location tree.
// ID fields set to 0 mean "none" throughout the package.
// ロケーションツリーのノード（IDが0の場合は未設定を意味する）
type Location struct {
	ID              int64           `json:"id" db:"id"`                             // ロケーションID
	Name            string          `json:"name" db:"name"`                         // ロケーション名
	Usage           LocationUsage   `json:"usage" db:"usage"`                       // 用途
	ParentID        int64           `json:"parent_id" db:"parent_id"`               // 親ロケーション
	RemovalStrategy RemovalStrategy `json:"removal_strategy" db:"removal_strategy"` // 払出戦略（空なら親を参照）
	CompanyID       int64           `json:"company_id" db:"company_id"`             // 会社
}

// ShouldBypassReservation reports whether moves leaving this location skip quant reservation
// このロケーションからの移動がクォント予約を省略するか
func (l *Location) ShouldBypassReservation() bool {
	return l.Usage != UsageInternal && l.Usage != UsageTransit
}

// KeepsQuants reports whether quants of the product are maintained at this location.
// Customer locations keep quants of tracked products so delivered lots stay traceable.
func (l *Location) KeepsQuants(p *Product) bool {
	if !p.IsStorable() {
		return false
	}
	switch l.Usage {
	case UsageInternal, UsageTransit:
		return true
	case UsageCustomer:
		return p.Tracking != TrackingNone
	}
	return false
}

// UoM is a unit of measure with its rounding step
// 丸め単位付きの計量単位
type UoM struct {
	ID       int64           `json:"id" db:"id"`             // 単位ID
	Name     string          `json:"name" db:"name"`         // 単位名
	Rounding decimal.Decimal `json:"rounding" db:"rounding"` // 丸め単位（例: 0.01）
}

// Category is a product category
// 製品カテゴリ
type Category struct {
	ID              int64           `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	RemovalStrategy RemovalStrategy `json:"removal_strategy" db:"removal_strategy"` // 優先される払出戦略
}

// Product is the identity record a quant refers to
// クォントが参照する製品
type Product struct {
	ID          int64       `json:"id" db:"id"`                     // 製品ID
	Name        string      `json:"name" db:"name"`                 // 製品名
	DefaultCode string      `json:"default_code" db:"default_code"` // 品番
	Type        ProductType `json:"type" db:"type"`                 // 在庫区分
	Tracking    Tracking    `json:"tracking" db:"tracking"`         // 追跡方法
	UoM         UoM         `json:"uom" db:"-"`                     // 計量単位
	CategoryID  int64       `json:"category_id" db:"category_id"`   // カテゴリ

	// InventoryLocations maps a company to its virtual inventory location
	// 会社ごとの棚卸仮想ロケーション
	InventoryLocations map[int64]int64 `json:"inventory_locations" db:"-"`
}

// DisplayName returns the user facing product name
// 表示用の製品名を返す
func (p *Product) DisplayName() string {
	if p.DefaultCode != "" {
		return fmt.Sprintf("[%s] %s", p.DefaultCode, p.Name)
	}
	return p.Name
}

// IsStorable reports whether the product participates in quants
func (p *Product) IsStorable() bool {
	return p.Type == ProductTypeStorable
}

// InventoryLocation returns the virtual inventory location of a company
// 会社の棚卸仮想ロケーションを返す
func (p *Product) InventoryLocation(companyID int64) (int64, bool) {
	id, ok := p.InventoryLocations[companyID]
	return id, ok && id != 0
}

// Lot represents a lot or serial number of a product
// 製品のロット/シリアル番号
type Lot struct {
	ID        int64     `json:"id" db:"id"`                 // ロットID
	Name      string    `json:"name" db:"name"`             // ロット番号
	ProductID int64     `json:"product_id" db:"product_id"` // 製品ID
	CompanyID int64     `json:"company_id" db:"company_id"` // 会社
	CreatedAt time.Time `json:"created_at" db:"created_at"` // 作成日時
}

// PackageUse defines whether a package is thrown away after use
type PackageUse string

const (
	PackageDisposable PackageUse = "disposable" // 使い捨て
	PackageReusable   PackageUse = "reusable"   // 再利用
)

// Package groups quants at a single location.
// Its location and owner are derived from its quants, see PackageContent.
type Package struct {
	ID        int64      `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Use       PackageUse `json:"package_use" db:"package_use"`
	CompanyID int64      `json:"company_id" db:"company_id"`
}

// QuantKey identifies a quant bucket
// クォントのバケットを識別するキー
type QuantKey struct {
	ProductID  int64 `json:"product_id"`
	LocationID int64 `json:"location_id"`
	LotID      int64 `json:"lot_id,omitempty"`
	PackageID  int64 `json:"package_id,omitempty"`
	OwnerID    int64 `json:"owner_id,omitempty"`
}

// Quant is the atomic stock fact of a bucket
// バケット単位の在庫事実（手持数量と予約数量）
type Quant struct {
	ID                   int64           `json:"id" db:"id"`                                         // クォントID
	CompanyID            int64           `json:"company_id" db:"company_id"`                         // 会社
	ProductID            int64           `json:"product_id" db:"product_id"`                         // 製品
	LocationID           int64           `json:"location_id" db:"location_id"`                       // ロケーション
	LotID                int64           `json:"lot_id" db:"lot_id"`                                 // ロット
	PackageID            int64           `json:"package_id" db:"package_id"`                         // パッケージ
	OwnerID              int64           `json:"owner_id" db:"owner_id"`                             // 所有者
	Quantity             decimal.Decimal `json:"quantity" db:"quantity"`                             // 手持数量 Q
	ReservedQuantity     decimal.Decimal `json:"reserved_quantity" db:"reserved_quantity"`           // 予約数量 R
	InDate               time.Time       `json:"in_date" db:"in_date"`                               // 入庫日
	InventoryQuantity    decimal.Decimal `json:"inventory_quantity" db:"inventory_quantity"`         // 実棚数量
	InventoryQuantitySet bool            `json:"inventory_quantity_set" db:"inventory_quantity_set"` // 実棚数量入力済み
}

// Key returns the bucket key of the quant
func (q *Quant) Key() QuantKey {
	return QuantKey{
		ProductID:  q.ProductID,
		LocationID: q.LocationID,
		LotID:      q.LotID,
		PackageID:  q.PackageID,
		OwnerID:    q.OwnerID,
	}
}

// AvailableQuantity returns Q - R
// 利用可能数量（手持 - 予約）
func (q *Quant) AvailableQuantity() decimal.Decimal {
	return q.Quantity.Sub(q.ReservedQuantity)
}

// InventoryDiffQuantity returns counted minus on hand
// 実棚数量と手持数量の差
func (q *Quant) InventoryDiffQuantity() decimal.Decimal {
	if !q.InventoryQuantitySet {
		return decimal.Zero
	}
	return q.InventoryQuantity.Sub(q.Quantity)
}

// MoveState is the state of a stock move
// 在庫移動の状態
type MoveState string

const (
	MoveStateDraft              MoveState = "draft"               // 下書き
	MoveStateConfirmed          MoveState = "confirmed"           // 確定
	MoveStatePartiallyAvailable MoveState = "partially_available" // 一部引当
	MoveStateAssigned           MoveState = "assigned"            // 引当済み
	MoveStateDone               MoveState = "done"                // 完了
	MoveStateCancel             MoveState = "cancel"              // 取消
)

// Move is a commitment to move a quantity of a product between locations
// 製品をロケーション間で移動する約束
type Move struct {
	ID             int64           `json:"id" db:"id"`                             // 移動ID
	Reference      string          `json:"reference" db:"reference"`               // 参照番号
	CompanyID      int64           `json:"company_id" db:"company_id"`             // 会社
	ProductID      int64           `json:"product_id" db:"product_id"`             // 製品
	ProductUoMQty  decimal.Decimal `json:"product_uom_qty" db:"product_uom_qty"`   // 需要数量
	LocationID     int64           `json:"location_id" db:"location_id"`           // 移動元
	LocationDestID int64           `json:"location_dest_id" db:"location_dest_id"` // 移動先
	OwnerID        int64           `json:"owner_id" db:"owner_id"`                 // 引当対象の所有者
	State          MoveState       `json:"state" db:"state"`                       // 状態
	IsInventory    bool            `json:"is_inventory" db:"is_inventory"`         // 棚卸調整による移動
	OriginMoveIDs  []int64         `json:"origin_move_ids" db:"-"`                 // 連鎖元の移動
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`             // 作成日時
	DoneAt         *time.Time      `json:"done_at" db:"done_at"`                   // 完了日時
}

// LineOrigin tells why a move line exists
type LineOrigin string

const (
	// LineOriginReservation lines are created by reservation and vanish with it
	LineOriginReservation LineOrigin = "reservation"
	// LineOriginDemand lines are created by the user or by a split and survive unreservation
	LineOriginDemand LineOrigin = "demand"
)

// MoveLine is a slice of a move tied to a reservation on one quant bucket
// 1つのクォントバケットへの予約に紐づく移動明細
type MoveLine struct {
	ID              int64           `json:"id" db:"id"`                               // 明細ID
	MoveID          int64           `json:"move_id" db:"move_id"`                     // 移動ID
	CompanyID       int64           `json:"company_id" db:"company_id"`               // 会社
	ProductID       int64           `json:"product_id" db:"product_id"`               // 製品
	DemandQty       decimal.Decimal `json:"demand_qty" db:"demand_qty"`               // 明細の需要数量
	ReservedQty     decimal.Decimal `json:"reserved_qty" db:"reserved_qty"`           // 予約数量
	QtyDone         decimal.Decimal `json:"qty_done" db:"qty_done"`                   // 実績数量
	LocationID      int64           `json:"location_id" db:"location_id"`             // 移動元
	LocationDestID  int64           `json:"location_dest_id" db:"location_dest_id"`   // 移動先
	LotID           int64           `json:"lot_id" db:"lot_id"`                       // ロット
	PackageID       int64           `json:"package_id" db:"package_id"`               // 移動元パッケージ
	ResultPackageID int64           `json:"result_package_id" db:"result_package_id"` // 移動先パッケージ
	OwnerID         int64           `json:"owner_id" db:"owner_id"`                   // 所有者
	Origin          LineOrigin      `json:"origin" db:"origin"`                       // 作成経緯
}

// SourceKey returns the quant bucket the line reserves from
func (l *MoveLine) SourceKey() QuantKey {
	return QuantKey{
		ProductID:  l.ProductID,
		LocationID: l.LocationID,
		LotID:      l.LotID,
		PackageID:  l.PackageID,
		OwnerID:    l.OwnerID,
	}
}

// DestinationKey returns the quant bucket the line feeds when done
func (l *MoveLine) DestinationKey() QuantKey {
	return QuantKey{
		ProductID:  l.ProductID,
		LocationID: l.LocationDestID,
		LotID:      l.LotID,
		PackageID:  l.ResultPackageID,
		OwnerID:    l.OwnerID,
	}
}

// Reservation is one (quant, taken) pair returned by UpdateReservedQuantity.
// Quantity is negative for unreservations.
// 予約更新で触れたクォントと増減量
type Reservation struct {
	Quant    *Quant          `json:"quant"`
	Quantity decimal.Decimal `json:"quantity"`
}

// SerialCheckResult is the advisory returned by CheckSerialNumber
// シリアル番号検証の結果（例外ではなく助言）
type SerialCheckResult struct {
	Message               string `json:"message,omitempty"`
	RecommendedLocationID int64  `json:"recommended_location_id,omitempty"`
}

// HasWarning reports whether the check produced an advisory
func (r SerialCheckResult) HasWarning() bool {
	return r.Message != ""
}

// NewEventID generates a new event ID
// 新しいイベントIDを生成
func NewEventID() string {
	return uuid.New().String()
}
