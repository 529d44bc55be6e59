package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manager runs quant engine operations inside storage transactions
// ストレージのトランザクション内でクォントエンジンの操作を実行
type Manager struct {
	storage   Storage        // ストレージ層
	publisher EventPublisher // イベント発行者
	logger    *zap.Logger    // ログ
	config    *Config        // 設定
	metrics   *Metrics       // メトリクス（nil可）
	clock     *monotonicClock
}

// すべてのインターフェースを実装することを明示
var _ QuantEngine = (*Manager)(nil)

// Config holds configuration for the quant engine
// クォントエンジンの設定を保持
type Config struct {
	UoMDecimalPrecision    int32           `yaml:"uom_decimal_precision"`    // 計量単位の小数桁数
	QuantTasksInterval     time.Duration   `yaml:"quant_tasks_interval"`     // メンテナンス実行間隔
	DefaultRemovalStrategy RemovalStrategy `yaml:"default_removal_strategy"` // デフォルト払出戦略
}

// DefaultConfig returns the engine defaults
// エンジンのデフォルト設定を返す
func DefaultConfig() *Config {
	return &Config{
		UoMDecimalPrecision:    2,
		QuantTasksInterval:     time.Minute * 5,
		DefaultRemovalStrategy: RemovalFIFO,
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the time source used for in_date defaults
// in_date の既定値に使う時刻取得関数を差し替える
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.clock = newMonotonicClock(now)
	}
}

// WithMetrics attaches Prometheus collectors to the manager
// Prometheus メトリクスを設定
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a new quant engine manager
// 新しいクォントエンジンマネージャーを作成
func NewManager(storage Storage, publisher EventPublisher, logger *zap.Logger, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DefaultRemovalStrategy == "" {
		config.DefaultRemovalStrategy = RemovalFIFO
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		storage:   storage,
		publisher: publisher,
		logger:    logger,
		config:    config,
		clock:     newMonotonicClock(time.Now),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the engine configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Do runs fn inside one storage transaction scoped to a company.
// The transaction commits when fn returns nil and rolls back otherwise.
// Events recorded by the session are published after commit.
// 会社単位の1トランザクション内で fn を実行する
func (m *Manager) Do(ctx context.Context, companyID int64, fn func(*Session) error) (err error) {
	tx, err := m.storage.Begin(ctx)
	if err != nil {
		return NewStorageError("begin", "トランザクション開始に失敗しました", err)
	}

	s := m.newSession(ctx, tx, companyID)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(s); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Error("ロールバックに失敗しました", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStorageError("commit", "コミットに失敗しました", err)
	}

	s.publishPending(ctx)
	return nil
}

type userContextKey struct{}

// WithUser returns a context carrying the acting user
// 操作ユーザーをコンテキストに設定
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// getUserFromContext extracts user ID from context
// コンテキストからユーザーIDを取得
func getUserFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userContextKey{}).(string); ok && userID != "" {
		return userID
	}
	return "system"
}

// monotonicClock never goes backwards
type monotonicClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newMonotonicClock(now func() time.Time) *monotonicClock {
	return &monotonicClock{now: now}
}

// Now returns the current time, never earlier than a previous result
func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// Session is the explicit per-transaction context every engine operation runs in.
// A Session must not be used after the Do call that created it returns.
// 1トランザクション分の実行コンテキスト
type Session struct {
	m         *Manager
	tx        Tx
	companyID int64
	userID    string
	now       time.Time

	products   map[int64]*Product
	categories map[int64]*Category
	locations  map[int64]*Location
	children   map[int64][]int64
	quants     map[int64]*Quant

	savepoints int
	pending    []func(ctx context.Context) error
}

func (m *Manager) newSession(ctx context.Context, tx Tx, companyID int64) *Session {
	return &Session{
		m:          m,
		tx:         tx,
		companyID:  companyID,
		userID:     getUserFromContext(ctx),
		now:        m.clock.Now(),
		products:   make(map[int64]*Product),
		categories: make(map[int64]*Category),
		locations:  make(map[int64]*Location),
		children:   make(map[int64][]int64),
		quants:     make(map[int64]*Quant),
	}
}

// CompanyID returns the company the session is scoped to
func (s *Session) CompanyID() int64 {
	return s.companyID
}

// Now returns the session time
func (s *Session) Now() time.Time {
	return s.now
}

func (s *Session) logger() *zap.Logger {
	return s.m.logger
}

// product returns a cached product
func (s *Session) product(ctx context.Context, productID int64) (*Product, error) {
	if p, ok := s.products[productID]; ok {
		return p, nil
	}
	p, err := s.tx.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	s.products[productID] = p
	return p, nil
}

// location returns a cached location
func (s *Session) location(ctx context.Context, locationID int64) (*Location, error) {
	if l, ok := s.locations[locationID]; ok {
		return l, nil
	}
	l, err := s.tx.GetLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	s.locations[locationID] = l
	return l, nil
}

func (s *Session) category(ctx context.Context, categoryID int64) (*Category, error) {
	if c, ok := s.categories[categoryID]; ok {
		return c, nil
	}
	c, err := s.tx.GetCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	s.categories[categoryID] = c
	return c, nil
}

// childLocations returns the location and its descendants
func (s *Session) childLocations(ctx context.Context, locationID int64) ([]int64, error) {
	if ids, ok := s.children[locationID]; ok {
		return ids, nil
	}
	ids, err := s.tx.ChildLocationIDs(ctx, locationID)
	if err != nil {
		return nil, err
	}
	s.children[locationID] = ids
	return ids, nil
}

// isChildOf reports whether locationID is parentID or below it
func (s *Session) isChildOf(ctx context.Context, locationID, parentID int64) (bool, error) {
	ids, err := s.childLocations(ctx, parentID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == locationID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Session) cacheQuants(quants []*Quant) {
	for _, q := range quants {
		s.quants[q.ID] = q
	}
}

// quant returns a quant, from the session cache when possible
func (s *Session) quant(ctx context.Context, quantID int64) (*Quant, error) {
	if q, ok := s.quants[quantID]; ok {
		return q, nil
	}
	q, err := s.tx.GetQuant(ctx, quantID)
	if err != nil {
		return nil, err
	}
	s.quants[quantID] = q
	return q, nil
}

// patchQuant writes a column-scoped change and caches the stored row.
// A failure other than a missing quant drops the whole quant cache.
func (s *Session) patchQuant(ctx context.Context, quantID int64, patch QuantPatch) (*Quant, error) {
	q, err := s.tx.PatchQuant(ctx, quantID, patch)
	if err != nil {
		if errors.Is(err, ErrQuantNotFound) {
			delete(s.quants, quantID)
			return nil, err
		}
		s.invalidateQuantCache()
		return nil, NewStorageError("update_quant", "クォント更新に失敗しました", err)
	}
	s.quants[q.ID] = q
	return q, nil
}

// invalidateQuantCache drops every cached quant of the session
// セッションのクォントキャッシュを破棄
func (s *Session) invalidateQuantCache() {
	s.quants = make(map[int64]*Quant)
}

// withSavepoint runs fn inside a savepoint and rolls back to it when fn fails
// セーブポイント内で fn を実行し、失敗時はセーブポイントまで戻す
func (s *Session) withSavepoint(ctx context.Context, fn func() error) error {
	s.savepoints++
	name := fmt.Sprintf("quant_sp_%d", s.savepoints)

	if err := s.tx.Savepoint(ctx, name); err != nil {
		return NewStorageError("savepoint", "セーブポイント作成に失敗しました", err)
	}
	if err := fn(); err != nil {
		if rbErr := s.tx.RollbackToSavepoint(ctx, name); rbErr != nil {
			return errors.Join(err, NewStorageError("rollback_to_savepoint", "セーブポイントへのロールバックに失敗しました", rbErr))
		}
		return err
	}
	if err := s.tx.ReleaseSavepoint(ctx, name); err != nil {
		return NewStorageError("release_savepoint", "セーブポイント解放に失敗しました", err)
	}
	return nil
}

// onCommit records a callback to run once the transaction is committed
func (s *Session) onCommit(fn func(ctx context.Context) error) {
	s.pending = append(s.pending, fn)
}

// publishPending runs the callbacks recorded during the session
// イベント発行に失敗してもトランザクション結果は変わらない
func (s *Session) publishPending(ctx context.Context) {
	for _, fn := range s.pending {
		if err := fn(ctx); err != nil {
			s.logger().Error("イベント発行に失敗しました", zap.Error(err))
		}
	}
	s.pending = nil
}

func (s *Session) emitQuantUpdated(key QuantKey, delta, available decimal.Decimal, inDate time.Time) {
	if s.m.publisher == nil {
		return
	}
	event := QuantUpdatedEvent{
		EventID:   NewEventID(),
		CompanyID: s.companyID,
		Key:       key,
		Delta:     delta,
		Available: available,
		InDate:    inDate,
		Timestamp: s.now,
		UserID:    s.userID,
	}
	publisher := s.m.publisher
	s.onCommit(func(ctx context.Context) error {
		return publisher.PublishQuantUpdated(ctx, event)
	})
}

func (s *Session) emitMoveDone(move *Move, quantity decimal.Decimal, backorderID int64) {
	if s.m.publisher == nil {
		return
	}
	event := MoveDoneEvent{
		EventID:        NewEventID(),
		MoveID:         move.ID,
		Reference:      move.Reference,
		ProductID:      move.ProductID,
		LocationID:     move.LocationID,
		LocationDestID: move.LocationDestID,
		Quantity:       quantity,
		BackorderID:    backorderID,
		Timestamp:      s.now,
		UserID:         s.userID,
	}
	publisher := s.m.publisher
	s.onCommit(func(ctx context.Context) error {
		return publisher.PublishMoveDone(ctx, event)
	})
}

// Manager wrappers: each runs one operation in its own transaction
// 各操作を独立したトランザクションで実行するラッパー

// Gather returns the ordered candidate quants of a request
// 払出順に並んだ候補クォントを返す
func (m *Manager) Gather(ctx context.Context, companyID int64, key QuantKey, strict bool) ([]*Quant, error) {
	var quants []*Quant
	err := m.Do(ctx, companyID, func(s *Session) error {
		var err error
		quants, err = s.Gather(ctx, key, strict)
		return err
	})
	return quants, err
}

// GetAvailableQuantity returns the available quantity of a request
// 利用可能数量を返す
func (m *Manager) GetAvailableQuantity(ctx context.Context, companyID int64, key QuantKey, strict, allowNegative bool) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := m.Do(ctx, companyID, func(s *Session) error {
		var err error
		available, err = s.GetAvailableQuantity(ctx, key, strict, allowNegative)
		return err
	})
	return available, err
}

// UpdateAvailableQuantity changes the on hand quantity of a bucket
// バケットの手持数量を増減する
func (m *Manager) UpdateAvailableQuantity(ctx context.Context, companyID int64, key QuantKey, delta decimal.Decimal, inDate *time.Time) (decimal.Decimal, time.Time, error) {
	var (
		available decimal.Decimal
		effective time.Time
	)
	err := m.Do(ctx, companyID, func(s *Session) error {
		var err error
		available, effective, err = s.UpdateAvailableQuantity(ctx, key, delta, inDate)
		return err
	})
	return available, effective, err
}

// UpdateReservedQuantity reserves (delta > 0) or unreserves (delta < 0) quantity
// 予約（正）または予約解除（負）を行う
func (m *Manager) UpdateReservedQuantity(ctx context.Context, companyID int64, key QuantKey, delta decimal.Decimal, strict bool) ([]Reservation, error) {
	var reservations []Reservation
	err := m.Do(ctx, companyID, func(s *Session) error {
		var err error
		reservations, err = s.UpdateReservedQuantity(ctx, key, delta, strict)
		return err
	})
	return reservations, err
}

// ApplyInventory turns a counted quantity into a done inventory move
// 実棚数量を棚卸調整移動として確定する
func (m *Manager) ApplyInventory(ctx context.Context, companyID, quantID int64, counted decimal.Decimal) (*Move, error) {
	var move *Move
	err := m.Do(ctx, companyID, func(s *Session) error {
		var err error
		move, err = s.ApplyInventory(ctx, quantID, counted)
		return err
	})
	return move, err
}

// CheckSerialNumber returns an advisory about a serial number placement
// シリアル番号の所在に関する助言を返す
func (m *Manager) CheckSerialNumber(ctx context.Context, companyID int64, req SerialCheckRequest) (SerialCheckResult, error) {
	var result SerialCheckResult
	err := m.Do(ctx, companyID, func(s *Session) error {
		var err error
		result, err = s.CheckSerialNumber(ctx, req)
		return err
	})
	return result, err
}

// QuantTasks runs the merge and zero purge maintenance passes
// クォントのマージとゼロ削除を実行
func (m *Manager) QuantTasks(ctx context.Context, companyID int64) error {
	return m.Do(ctx, companyID, func(s *Session) error {
		return s.QuantTasks(ctx)
	})
}
