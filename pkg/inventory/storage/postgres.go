package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiQuant/pkg/inventory"
)

// PostgreSQL error codes handled by the storage
const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

// PostgreSQLStorage implements the Storage interface using PostgreSQL
// PostgreSQLを使用したStorageインターフェースの実装
type PostgreSQLStorage struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// ストレージインターフェースを実装することを明示
var (
	_ inventory.Storage = (*PostgreSQLStorage)(nil)
	_ inventory.Tx      = (*postgresTx)(nil)
)

// NewPostgreSQLStorage creates a new PostgreSQL storage instance
// 新しいPostgreSQLストレージインスタンスを作成
func NewPostgreSQLStorage(dsn string, logger *zap.Logger) (*PostgreSQLStorage, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗しました: %w", err)
	}

	// 接続テスト
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("データベースpingに失敗しました: %w", err)
	}

	// 接続プール設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewPostgreSQLStorageFromDB(db, logger), nil
}

// NewPostgreSQLStorageFromDB wraps an existing connection pool
// 既存の接続プールからストレージを作成
func NewPostgreSQLStorageFromDB(db *sqlx.DB, logger *zap.Logger) *PostgreSQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgreSQLStorage{db: db, logger: logger}
}

// Begin starts a new database transaction
// 新しいデータベーストランザクションを開始
func (s *PostgreSQLStorage) Begin(ctx context.Context) (inventory.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	return &postgresTx{tx: tx, logger: s.logger}, nil
}

// Ping checks database connectivity
// データベース接続確認
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
// データベース接続を閉じる
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}

// mapError translates driver errors into engine errors
// ドライバのエラーをエンジンのエラーに変換
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgLockNotAvailable:
			return inventory.ErrLockNotAvailable
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", inventory.ErrDuplicateBucket, pqErr.Message)
		}
	}
	return err
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func idOf(n sql.NullInt64) int64 {
	if !n.Valid {
		return 0
	}
	return n.Int64
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Master data administration
// マスタデータ登録

// CreateCategory creates a product category
// 製品カテゴリを作成
func (s *PostgreSQLStorage) CreateCategory(ctx context.Context, category *inventory.Category) error {
	if err := inventory.ValidateRemovalStrategy(category.RemovalStrategy); err != nil {
		return err
	}
	query := `INSERT INTO product_categories (name, removal_strategy) VALUES ($1, $2) RETURNING id`
	if err := s.db.GetContext(ctx, &category.ID, query, category.Name, nullString(string(category.RemovalStrategy))); err != nil {
		return fmt.Errorf("製品カテゴリ作成に失敗しました: %w", err)
	}
	return nil
}

// CreateProduct creates a product with its unit of measure and inventory locations
// 製品を計量単位・棚卸ロケーションと共に作成
func (s *PostgreSQLStorage) CreateProduct(ctx context.Context, product *inventory.Product) error {
	if err := inventory.ValidateProduct(product); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if product.UoM.ID == 0 {
		query := `INSERT INTO uoms (name, rounding) VALUES ($1, $2) RETURNING id`
		if err := tx.GetContext(ctx, &product.UoM.ID, query, product.UoM.Name, product.UoM.Rounding); err != nil {
			return fmt.Errorf("計量単位作成に失敗しました: %w", err)
		}
	}

	query := `
		INSERT INTO products (name, default_code, type, tracking, uom_id, category_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := tx.GetContext(ctx, &product.ID, query,
		product.Name,
		product.DefaultCode,
		product.Type,
		product.Tracking,
		product.UoM.ID,
		nullID(product.CategoryID),
	); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pgUniqueViolation {
			return fmt.Errorf("製品は既に存在します")
		}
		return fmt.Errorf("製品作成に失敗しました: %w", err)
	}

	for companyID, locationID := range product.InventoryLocations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO product_inventory_locations (product_id, company_id, location_id) VALUES ($1, $2, $3)`,
			product.ID, companyID, locationID)
		if err != nil {
			return fmt.Errorf("棚卸ロケーション設定に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗しました: %w", err)
	}
	return nil
}

// CreateLocation creates a location and maintains its parent path
// ロケーションを作成し、親パスを設定
func (s *PostgreSQLStorage) CreateLocation(ctx context.Context, location *inventory.Location) error {
	if err := inventory.ValidateLocation(location); err != nil {
		return err
	}

	query := `
		INSERT INTO stock_locations (name, usage, parent_id, removal_strategy, company_id, parent_path)
		VALUES ($1, $2, $3, $4, $5, '')
		RETURNING id`
	if err := s.db.GetContext(ctx, &location.ID, query,
		location.Name,
		location.Usage,
		nullID(location.ParentID),
		nullString(string(location.RemovalStrategy)),
		location.CompanyID,
	); err != nil {
		return fmt.Errorf("ロケーション作成に失敗しました: %w", err)
	}

	// 親パスは "1/4/7/" 形式
	_, err := s.db.ExecContext(ctx, `
		UPDATE stock_locations
		SET parent_path = COALESCE((SELECT p.parent_path FROM stock_locations p WHERE p.id = $2), '') || id::text || '/'
		WHERE id = $1`, location.ID, nullID(location.ParentID))
	if err != nil {
		return fmt.Errorf("ロケーションの親パス設定に失敗しました: %w", err)
	}
	return nil
}

// CreatePackage creates a package
// パッケージを作成
func (s *PostgreSQLStorage) CreatePackage(ctx context.Context, pkg *inventory.Package) error {
	if pkg.Use == "" {
		pkg.Use = inventory.PackageDisposable
	}
	query := `INSERT INTO stock_packages (name, package_use, company_id) VALUES ($1, $2, $3) RETURNING id`
	if err := s.db.GetContext(ctx, &pkg.ID, query, pkg.Name, pkg.Use, pkg.CompanyID); err != nil {
		return fmt.Errorf("パッケージ作成に失敗しました: %w", err)
	}
	return nil
}

// postgresTx is a database transaction implementing inventory.Tx
type postgresTx struct {
	tx     *sqlx.Tx
	logger *zap.Logger
}

func (t *postgresTx) Commit() error {
	return t.tx.Commit()
}

func (t *postgresTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *postgresTx) Savepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+pq.QuoteIdentifier(name))
	return err
}

func (t *postgresTx) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+pq.QuoteIdentifier(name))
	return err
}

func (t *postgresTx) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+pq.QuoteIdentifier(name))
	return err
}

type productRow struct {
	ID          int64           `db:"id"`
	Name        string          `db:"name"`
	DefaultCode string          `db:"default_code"`
	Type        string          `db:"type"`
	Tracking    string          `db:"tracking"`
	CategoryID  sql.NullInt64   `db:"category_id"`
	UoMID       int64           `db:"uom_id"`
	UoMName     string          `db:"uom_name"`
	UoMRounding decimal.Decimal `db:"uom_rounding"`
}

func (t *postgresTx) GetProduct(ctx context.Context, productID int64) (*inventory.Product, error) {
	query := `
		SELECT p.id, p.name, p.default_code, p.type, p.tracking, p.category_id,
		       u.id AS uom_id, u.name AS uom_name, u.rounding AS uom_rounding
		FROM products p
		JOIN uoms u ON u.id = p.uom_id
		WHERE p.id = $1`

	var row productRow
	if err := t.tx.GetContext(ctx, &row, query, productID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrProductNotFound
		}
		return nil, fmt.Errorf("製品取得に失敗しました: %w", err)
	}

	var locations []struct {
		CompanyID  int64 `db:"company_id"`
		LocationID int64 `db:"location_id"`
	}
	if err := t.tx.SelectContext(ctx, &locations,
		`SELECT company_id, location_id FROM product_inventory_locations WHERE product_id = $1`, productID); err != nil {
		return nil, fmt.Errorf("棚卸ロケーション取得に失敗しました: %w", err)
	}

	product := &inventory.Product{
		ID:                 row.ID,
		Name:               row.Name,
		DefaultCode:        row.DefaultCode,
		Type:               inventory.ProductType(row.Type),
		Tracking:           inventory.Tracking(row.Tracking),
		CategoryID:         idOf(row.CategoryID),
		UoM:                inventory.UoM{ID: row.UoMID, Name: row.UoMName, Rounding: row.UoMRounding},
		InventoryLocations: make(map[int64]int64, len(locations)),
	}
	for _, l := range locations {
		product.InventoryLocations[l.CompanyID] = l.LocationID
	}
	return product, nil
}

func (t *postgresTx) GetCategory(ctx context.Context, categoryID int64) (*inventory.Category, error) {
	var row struct {
		ID              int64          `db:"id"`
		Name            string         `db:"name"`
		RemovalStrategy sql.NullString `db:"removal_strategy"`
	}
	err := t.tx.GetContext(ctx, &row, `SELECT id, name, removal_strategy FROM product_categories WHERE id = $1`, categoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("製品カテゴリ取得に失敗しました: %w", err)
	}
	return &inventory.Category{
		ID:              row.ID,
		Name:            row.Name,
		RemovalStrategy: inventory.RemovalStrategy(row.RemovalStrategy.String),
	}, nil
}

type locationRow struct {
	ID              int64          `db:"id"`
	Name            string         `db:"name"`
	Usage           string         `db:"usage"`
	ParentID        sql.NullInt64  `db:"parent_id"`
	RemovalStrategy sql.NullString `db:"removal_strategy"`
	CompanyID       int64          `db:"company_id"`
}

func (t *postgresTx) GetLocation(ctx context.Context, locationID int64) (*inventory.Location, error) {
	query := `SELECT id, name, usage, parent_id, removal_strategy, company_id FROM stock_locations WHERE id = $1`

	var row locationRow
	if err := t.tx.GetContext(ctx, &row, query, locationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrLocationNotFound
		}
		return nil, fmt.Errorf("ロケーション取得に失敗しました: %w", err)
	}
	return &inventory.Location{
		ID:              row.ID,
		Name:            row.Name,
		Usage:           inventory.LocationUsage(row.Usage),
		ParentID:        idOf(row.ParentID),
		RemovalStrategy: inventory.RemovalStrategy(row.RemovalStrategy.String),
		CompanyID:       row.CompanyID,
	}, nil
}

func (t *postgresTx) ChildLocationIDs(ctx context.Context, locationID int64) ([]int64, error) {
	var parentPath string
	err := t.tx.GetContext(ctx, &parentPath, `SELECT parent_path FROM stock_locations WHERE id = $1`, locationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrLocationNotFound
		}
		return nil, fmt.Errorf("ロケーション取得に失敗しました: %w", err)
	}

	var ids []int64
	if err := t.tx.SelectContext(ctx, &ids,
		`SELECT id FROM stock_locations WHERE parent_path LIKE $1 ORDER BY id`, parentPath+"%"); err != nil {
		return nil, fmt.Errorf("子ロケーション取得に失敗しました: %w", err)
	}
	return ids, nil
}

type lotRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	ProductID int64     `db:"product_id"`
	CompanyID int64     `db:"company_id"`
	CreatedAt time.Time `db:"created_at"`
}

func (r lotRow) lot() *inventory.Lot {
	return &inventory.Lot{ID: r.ID, Name: r.Name, ProductID: r.ProductID, CompanyID: r.CompanyID, CreatedAt: r.CreatedAt}
}

func (t *postgresTx) GetLot(ctx context.Context, lotID int64) (*inventory.Lot, error) {
	var row lotRow
	err := t.tx.GetContext(ctx, &row, `SELECT id, name, product_id, company_id, created_at FROM stock_lots WHERE id = $1`, lotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrLotNotFound
		}
		return nil, fmt.Errorf("ロット取得に失敗しました: %w", err)
	}
	return row.lot(), nil
}

func (t *postgresTx) FindLot(ctx context.Context, productID int64, name string, companyID int64) (*inventory.Lot, error) {
	query := `
		SELECT id, name, product_id, company_id, created_at
		FROM stock_lots
		WHERE product_id = $1 AND name = $2 AND company_id = $3`

	var row lotRow
	if err := t.tx.GetContext(ctx, &row, query, productID, name, companyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrLotNotFound
		}
		return nil, fmt.Errorf("ロット検索に失敗しました: %w", err)
	}
	return row.lot(), nil
}

func (t *postgresTx) CreateLot(ctx context.Context, lot *inventory.Lot) error {
	query := `
		INSERT INTO stock_lots (name, product_id, company_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if err := t.tx.GetContext(ctx, &lot.ID, query, lot.Name, lot.ProductID, lot.CompanyID, lot.CreatedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == pgUniqueViolation {
			return inventory.ErrDuplicateLot
		}
		return fmt.Errorf("ロット作成に失敗しました: %w", err)
	}
	return nil
}

func (t *postgresTx) GetPackage(ctx context.Context, packageID int64) (*inventory.Package, error) {
	var row struct {
		ID        int64  `db:"id"`
		Name      string `db:"name"`
		Use       string `db:"package_use"`
		CompanyID int64  `db:"company_id"`
	}
	err := t.tx.GetContext(ctx, &row, `SELECT id, name, package_use, company_id FROM stock_packages WHERE id = $1`, packageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrPackageNotFound
		}
		return nil, fmt.Errorf("パッケージ取得に失敗しました: %w", err)
	}
	return &inventory.Package{ID: row.ID, Name: row.Name, Use: inventory.PackageUse(row.Use), CompanyID: row.CompanyID}, nil
}

const quantColumns = `q.id, q.company_id, q.product_id, q.location_id, q.lot_id, q.package_id, q.owner_id,
	q.quantity, q.reserved_quantity, q.in_date, q.inventory_quantity, q.inventory_quantity_set`

type quantRow struct {
	ID                   int64           `db:"id"`
	CompanyID            int64           `db:"company_id"`
	ProductID            int64           `db:"product_id"`
	LocationID           int64           `db:"location_id"`
	LotID                sql.NullInt64   `db:"lot_id"`
	PackageID            sql.NullInt64   `db:"package_id"`
	OwnerID              sql.NullInt64   `db:"owner_id"`
	Quantity             decimal.Decimal `db:"quantity"`
	ReservedQuantity     decimal.Decimal `db:"reserved_quantity"`
	InDate               time.Time       `db:"in_date"`
	InventoryQuantity    decimal.Decimal `db:"inventory_quantity"`
	InventoryQuantitySet bool            `db:"inventory_quantity_set"`
}

func (r quantRow) quant() *inventory.Quant {
	return &inventory.Quant{
		ID:                   r.ID,
		CompanyID:            r.CompanyID,
		ProductID:            r.ProductID,
		LocationID:           r.LocationID,
		LotID:                idOf(r.LotID),
		PackageID:            idOf(r.PackageID),
		OwnerID:              idOf(r.OwnerID),
		Quantity:             r.Quantity,
		ReservedQuantity:     r.ReservedQuantity,
		InDate:               r.InDate,
		InventoryQuantity:    r.InventoryQuantity,
		InventoryQuantitySet: r.InventoryQuantitySet,
	}
}

func quantsOf(rows []quantRow) []*inventory.Quant {
	out := make([]*inventory.Quant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.quant())
	}
	return out
}

// buildQuantSearch builds the SQL of a quant search
// クォント検索のSQLを組み立てる
func buildQuantSearch(filter inventory.QuantFilter) (string, []interface{}) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	join := ""
	if filter.ProductID != 0 {
		conditions = append(conditions, "q.product_id = "+arg(filter.ProductID))
	}
	if filter.CompanyID != 0 {
		conditions = append(conditions, "q.company_id = "+arg(filter.CompanyID))
	}
	if len(filter.LocationIDs) > 0 {
		conditions = append(conditions, "q.location_id = ANY("+arg(pq.Array(filter.LocationIDs))+")")
	}
	if len(filter.Usages) > 0 {
		usages := make([]string, 0, len(filter.Usages))
		for _, u := range filter.Usages {
			usages = append(usages, string(u))
		}
		join = " JOIN stock_locations l ON l.id = q.location_id"
		conditions = append(conditions, "l.usage = ANY("+arg(pq.Array(usages))+")")
	}

	optional := func(column string, id int64) {
		switch {
		case id != 0:
			conditions = append(conditions, column+" = "+arg(id))
		case filter.Strict:
			conditions = append(conditions, column+" IS NULL")
		}
	}
	optional("q.lot_id", filter.LotID)
	optional("q.package_id", filter.PackageID)
	optional("q.owner_id", filter.OwnerID)

	if filter.NonZero {
		conditions = append(conditions, "q.quantity <> 0")
	}

	where := "TRUE"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	query := "SELECT " + quantColumns + " FROM stock_quants q" + join +
		" WHERE " + where + " ORDER BY q.id"
	return query, args
}

func (t *postgresTx) SearchQuants(ctx context.Context, filter inventory.QuantFilter) ([]*inventory.Quant, error) {
	query, args := buildQuantSearch(filter)

	var rows []quantRow
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("クォント検索に失敗しました: %w", err)
	}
	return quantsOf(rows), nil
}

func (t *postgresTx) PackageQuants(ctx context.Context, packageID int64) ([]*inventory.Quant, error) {
	var rows []quantRow
	query := "SELECT " + quantColumns + " FROM stock_quants q WHERE q.package_id = $1 ORDER BY q.id"
	if err := t.tx.SelectContext(ctx, &rows, query, packageID); err != nil {
		return nil, fmt.Errorf("パッケージ内容の取得に失敗しました: %w", err)
	}
	return quantsOf(rows), nil
}

func (t *postgresTx) GetQuant(ctx context.Context, quantID int64) (*inventory.Quant, error) {
	var row quantRow
	query := "SELECT " + quantColumns + " FROM stock_quants q WHERE q.id = $1"
	if err := t.tx.GetContext(ctx, &row, query, quantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrQuantNotFound
		}
		return nil, fmt.Errorf("クォント取得に失敗しました: %w", err)
	}
	return row.quant(), nil
}

// LockQuant locks a quant row with FOR UPDATE NOWAIT
// 待機せずにクォント行をロック
func (t *postgresTx) LockQuant(ctx context.Context, quantID int64) (*inventory.Quant, error) {
	var row quantRow
	query := "SELECT " + quantColumns + " FROM stock_quants q WHERE q.id = $1 FOR UPDATE NOWAIT"
	if err := t.tx.GetContext(ctx, &row, query, quantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrQuantNotFound
		}
		return nil, mapError(err)
	}
	return row.quant(), nil
}

func (t *postgresTx) CreateQuant(ctx context.Context, quant *inventory.Quant) error {
	query := `
		INSERT INTO stock_quants (company_id, product_id, location_id, lot_id, package_id, owner_id,
			quantity, reserved_quantity, in_date, inventory_quantity, inventory_quantity_set)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := t.tx.GetContext(ctx, &quant.ID, query,
		quant.CompanyID,
		quant.ProductID,
		quant.LocationID,
		nullID(quant.LotID),
		nullID(quant.PackageID),
		nullID(quant.OwnerID),
		quant.Quantity,
		quant.ReservedQuantity,
		quant.InDate,
		quant.InventoryQuantity,
		quant.InventoryQuantitySet,
	)
	if err != nil {
		return fmt.Errorf("クォント作成に失敗しました: %w", mapError(err))
	}
	return nil
}

func (t *postgresTx) UpdateQuant(ctx context.Context, quant *inventory.Quant) error {
	query := `
		UPDATE stock_quants
		SET lot_id = $2, package_id = $3, owner_id = $4, quantity = $5, reserved_quantity = $6,
			in_date = $7, inventory_quantity = $8, inventory_quantity_set = $9
		WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query,
		quant.ID,
		nullID(quant.LotID),
		nullID(quant.PackageID),
		nullID(quant.OwnerID),
		quant.Quantity,
		quant.ReservedQuantity,
		quant.InDate,
		quant.InventoryQuantity,
		quant.InventoryQuantitySet,
	)
	if err != nil {
		return fmt.Errorf("クォント更新に失敗しました: %w", mapError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return inventory.ErrQuantNotFound
	}
	return nil
}

// PatchQuant updates the named columns in place; the UPDATE waits for a conflicting row lock
// and RETURNING yields the row including quantities committed meanwhile.
// 指定列のみを更新し、更新後の行を返す
func (t *postgresTx) PatchQuant(ctx context.Context, quantID int64, patch inventory.QuantPatch) (*inventory.Quant, error) {
	query, args := buildQuantPatch(quantID, patch)

	var row quantRow
	if err := t.tx.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrQuantNotFound
		}
		return nil, fmt.Errorf("クォント部分更新に失敗しました: %w", mapError(err))
	}
	return row.quant(), nil
}

func buildQuantPatch(quantID int64, patch inventory.QuantPatch) (string, []interface{}) {
	args := []interface{}{quantID, patch.ReservedDelta}
	sets := []string{"reserved_quantity = q.reserved_quantity + $2"}

	if patch.PackageID != nil {
		args = append(args, nullID(*patch.PackageID))
		sets = append(sets, fmt.Sprintf("package_id = $%d", len(args)))
	}
	switch {
	case patch.ClearInventory:
		sets = append(sets, "inventory_quantity = 0", "inventory_quantity_set = FALSE")
	case patch.InventoryQuantity != nil:
		args = append(args, *patch.InventoryQuantity)
		sets = append(sets, fmt.Sprintf("inventory_quantity = $%d", len(args)), "inventory_quantity_set = TRUE")
	}

	query := "UPDATE stock_quants AS q SET " + strings.Join(sets, ", ") +
		" WHERE q.id = $1 RETURNING " + quantColumns
	return query, args
}

func (t *postgresTx) DeleteQuants(ctx context.Context, quantIDs []int64) error {
	if len(quantIDs) == 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM stock_quants WHERE id = ANY($1)`, pq.Array(quantIDs)); err != nil {
		return fmt.Errorf("クォント削除に失敗しました: %w", mapError(err))
	}
	return nil
}

// DuplicateQuantGroups groups quants of the same bucket; NULL keys compare equal in GROUP BY
// 同一バケットのクォントIDをまとめて返す
func (t *postgresTx) DuplicateQuantGroups(ctx context.Context) ([][]int64, error) {
	query := `
		SELECT array_agg(id ORDER BY id) AS ids
		FROM stock_quants
		GROUP BY product_id, company_id, location_id, lot_id, package_id, owner_id
		HAVING count(id) > 1
		ORDER BY min(id)`

	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("重複クォントの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	groups := make([][]int64, 0)
	for rows.Next() {
		var ids pq.Int64Array
		if err := rows.Scan(&ids); err != nil {
			return nil, fmt.Errorf("重複クォントの読み取りに失敗しました: %w", err)
		}
		groups = append(groups, []int64(ids))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("重複クォントの読み取りに失敗しました: %w", err)
	}
	return groups, nil
}

func (t *postgresTx) DeleteZeroQuants(ctx context.Context, precision int32) (int64, error) {
	query := `DELETE FROM stock_quants WHERE round(quantity, $1) = 0 AND round(reserved_quantity, $1) = 0`

	result, err := t.tx.ExecContext(ctx, query, precision)
	if err != nil {
		return 0, fmt.Errorf("ゼロクォントの削除に失敗しました: %w", mapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除行数の取得に失敗しました: %w", err)
	}
	return n, nil
}

const moveColumns = `m.id, m.reference, m.company_id, m.product_id, m.product_uom_qty, m.location_id,
	m.location_dest_id, m.owner_id, m.state, m.is_inventory, m.created_at, m.done_at`

type moveRow struct {
	ID             int64           `db:"id"`
	Reference      string          `db:"reference"`
	CompanyID      int64           `db:"company_id"`
	ProductID      int64           `db:"product_id"`
	ProductUoMQty  decimal.Decimal `db:"product_uom_qty"`
	LocationID     int64           `db:"location_id"`
	LocationDestID int64           `db:"location_dest_id"`
	OwnerID        sql.NullInt64   `db:"owner_id"`
	State          string          `db:"state"`
	IsInventory    bool            `db:"is_inventory"`
	CreatedAt      time.Time       `db:"created_at"`
	DoneAt         sql.NullTime    `db:"done_at"`
}

func (r moveRow) move() *inventory.Move {
	m := &inventory.Move{
		ID:             r.ID,
		Reference:      r.Reference,
		CompanyID:      r.CompanyID,
		ProductID:      r.ProductID,
		ProductUoMQty:  r.ProductUoMQty,
		LocationID:     r.LocationID,
		LocationDestID: r.LocationDestID,
		OwnerID:        idOf(r.OwnerID),
		State:          inventory.MoveState(r.State),
		IsInventory:    r.IsInventory,
		CreatedAt:      r.CreatedAt,
	}
	if r.DoneAt.Valid {
		t := r.DoneAt.Time
		m.DoneAt = &t
	}
	return m
}

func (t *postgresTx) CreateMove(ctx context.Context, move *inventory.Move) error {
	query := `
		INSERT INTO stock_moves (reference, company_id, product_id, product_uom_qty, location_id,
			location_dest_id, owner_id, state, is_inventory, created_at, done_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := t.tx.GetContext(ctx, &move.ID, query,
		move.Reference,
		move.CompanyID,
		move.ProductID,
		move.ProductUoMQty,
		move.LocationID,
		move.LocationDestID,
		nullID(move.OwnerID),
		move.State,
		move.IsInventory,
		move.CreatedAt,
		move.DoneAt,
	)
	if err != nil {
		return fmt.Errorf("在庫移動作成に失敗しました: %w", err)
	}

	for _, originID := range move.OriginMoveIDs {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO stock_move_origins (move_id, origin_move_id) VALUES ($1, $2)`, move.ID, originID); err != nil {
			return fmt.Errorf("連鎖元の登録に失敗しました: %w", err)
		}
	}
	return nil
}

func (t *postgresTx) loadOrigins(ctx context.Context, move *inventory.Move) error {
	var ids []int64
	if err := t.tx.SelectContext(ctx, &ids,
		`SELECT origin_move_id FROM stock_move_origins WHERE move_id = $1 ORDER BY origin_move_id`, move.ID); err != nil {
		return fmt.Errorf("連鎖元の取得に失敗しました: %w", err)
	}
	move.OriginMoveIDs = ids
	return nil
}

func (t *postgresTx) GetMove(ctx context.Context, moveID int64) (*inventory.Move, error) {
	var row moveRow
	query := "SELECT " + moveColumns + " FROM stock_moves m WHERE m.id = $1"
	if err := t.tx.GetContext(ctx, &row, query, moveID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrMoveNotFound
		}
		return nil, fmt.Errorf("在庫移動取得に失敗しました: %w", err)
	}

	move := row.move()
	if err := t.loadOrigins(ctx, move); err != nil {
		return nil, err
	}
	return move, nil
}

func (t *postgresTx) UpdateMove(ctx context.Context, move *inventory.Move) error {
	query := `
		UPDATE stock_moves
		SET product_uom_qty = $2, state = $3, done_at = $4
		WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query, move.ID, move.ProductUoMQty, move.State, move.DoneAt)
	if err != nil {
		return fmt.Errorf("在庫移動更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return inventory.ErrMoveNotFound
	}
	return nil
}

func (t *postgresTx) DestinationMoves(ctx context.Context, moveID int64) ([]*inventory.Move, error) {
	query := "SELECT " + moveColumns + ` FROM stock_moves m
		JOIN stock_move_origins o ON o.move_id = m.id
		WHERE o.origin_move_id = $1
		ORDER BY m.id`

	var rows []moveRow
	if err := t.tx.SelectContext(ctx, &rows, query, moveID); err != nil {
		return nil, fmt.Errorf("連鎖先の在庫移動取得に失敗しました: %w", err)
	}

	moves := make([]*inventory.Move, 0, len(rows))
	for _, r := range rows {
		m := r.move()
		if err := t.loadOrigins(ctx, m); err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	return moves, nil
}

const lineColumns = `l.id, l.move_id, l.company_id, l.product_id, l.demand_qty, l.reserved_qty, l.qty_done,
	l.location_id, l.location_dest_id, l.lot_id, l.package_id, l.result_package_id, l.owner_id, l.origin`

type lineRow struct {
	ID              int64           `db:"id"`
	MoveID          int64           `db:"move_id"`
	CompanyID       int64           `db:"company_id"`
	ProductID       int64           `db:"product_id"`
	DemandQty       decimal.Decimal `db:"demand_qty"`
	ReservedQty     decimal.Decimal `db:"reserved_qty"`
	QtyDone         decimal.Decimal `db:"qty_done"`
	LocationID      int64           `db:"location_id"`
	LocationDestID  int64           `db:"location_dest_id"`
	LotID           sql.NullInt64   `db:"lot_id"`
	PackageID       sql.NullInt64   `db:"package_id"`
	ResultPackageID sql.NullInt64   `db:"result_package_id"`
	OwnerID         sql.NullInt64   `db:"owner_id"`
	Origin          string          `db:"origin"`
}

func (r lineRow) line() *inventory.MoveLine {
	return &inventory.MoveLine{
		ID:              r.ID,
		MoveID:          r.MoveID,
		CompanyID:       r.CompanyID,
		ProductID:       r.ProductID,
		DemandQty:       r.DemandQty,
		ReservedQty:     r.ReservedQty,
		QtyDone:         r.QtyDone,
		LocationID:      r.LocationID,
		LocationDestID:  r.LocationDestID,
		LotID:           idOf(r.LotID),
		PackageID:       idOf(r.PackageID),
		ResultPackageID: idOf(r.ResultPackageID),
		OwnerID:         idOf(r.OwnerID),
		Origin:          inventory.LineOrigin(r.Origin),
	}
}

func linesOf(rows []lineRow) []*inventory.MoveLine {
	out := make([]*inventory.MoveLine, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.line())
	}
	return out
}

func (t *postgresTx) CreateMoveLine(ctx context.Context, line *inventory.MoveLine) error {
	query := `
		INSERT INTO stock_move_lines (move_id, company_id, product_id, demand_qty, reserved_qty, qty_done,
			location_id, location_dest_id, lot_id, package_id, result_package_id, owner_id, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err := t.tx.GetContext(ctx, &line.ID, query,
		line.MoveID,
		line.CompanyID,
		line.ProductID,
		line.DemandQty,
		line.ReservedQty,
		line.QtyDone,
		line.LocationID,
		line.LocationDestID,
		nullID(line.LotID),
		nullID(line.PackageID),
		nullID(line.ResultPackageID),
		nullID(line.OwnerID),
		line.Origin,
	)
	if err != nil {
		return fmt.Errorf("移動明細作成に失敗しました: %w", err)
	}
	return nil
}

func (t *postgresTx) GetMoveLine(ctx context.Context, lineID int64) (*inventory.MoveLine, error) {
	var row lineRow
	query := "SELECT " + lineColumns + " FROM stock_move_lines l WHERE l.id = $1"
	if err := t.tx.GetContext(ctx, &row, query, lineID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, inventory.ErrMoveLineNotFound
		}
		return nil, fmt.Errorf("移動明細取得に失敗しました: %w", err)
	}
	return row.line(), nil
}

func (t *postgresTx) UpdateMoveLine(ctx context.Context, line *inventory.MoveLine) error {
	query := `
		UPDATE stock_move_lines
		SET demand_qty = $2, reserved_qty = $3, qty_done = $4, location_id = $5, location_dest_id = $6,
			lot_id = $7, package_id = $8, result_package_id = $9, owner_id = $10
		WHERE id = $1`

	result, err := t.tx.ExecContext(ctx, query,
		line.ID,
		line.DemandQty,
		line.ReservedQty,
		line.QtyDone,
		line.LocationID,
		line.LocationDestID,
		nullID(line.LotID),
		nullID(line.PackageID),
		nullID(line.ResultPackageID),
		nullID(line.OwnerID),
	)
	if err != nil {
		return fmt.Errorf("移動明細更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return inventory.ErrMoveLineNotFound
	}
	return nil
}

func (t *postgresTx) DeleteMoveLine(ctx context.Context, lineID int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM stock_move_lines WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("移動明細削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return inventory.ErrMoveLineNotFound
	}
	return nil
}

func (t *postgresTx) MoveLines(ctx context.Context, moveID int64) ([]*inventory.MoveLine, error) {
	var rows []lineRow
	query := "SELECT " + lineColumns + " FROM stock_move_lines l WHERE l.move_id = $1 ORDER BY l.id"
	if err := t.tx.SelectContext(ctx, &rows, query, moveID); err != nil {
		return nil, fmt.Errorf("移動明細取得に失敗しました: %w", err)
	}
	return linesOf(rows), nil
}

func (t *postgresTx) MoveLinesByPackage(ctx context.Context, packageID int64) ([]*inventory.MoveLine, error) {
	query := "SELECT " + lineColumns + ` FROM stock_move_lines l
		JOIN stock_moves m ON m.id = l.move_id
		WHERE l.package_id = $1 AND m.state NOT IN ('done', 'cancel')
		ORDER BY l.id`

	var rows []lineRow
	if err := t.tx.SelectContext(ctx, &rows, query, packageID); err != nil {
		return nil, fmt.Errorf("移動明細取得に失敗しました: %w", err)
	}
	return linesOf(rows), nil
}
