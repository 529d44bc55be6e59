package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiQuant/pkg/inventory"
)

// ErrTxClosed is returned when a finished transaction is used again
// 終了済みトランザクションを使用した場合のエラー
var ErrTxClosed = errors.New("トランザクションは既に終了しています")

// MemoryStorage implements inventory.Storage in process.
// Writes are visible to other transactions immediately; isolation comes from row locks,
// which are held until commit or rollback like PostgreSQL row locks.
// プロセス内で動作するストレージ実装（行ロックとセーブポイント対応）
type MemoryStorage struct {
	mu     sync.Mutex
	cond   *sync.Cond
	logger *zap.Logger
	nextID int64

	categories map[int64]*inventory.Category
	products   map[int64]*inventory.Product
	locations  map[int64]*inventory.Location
	lots       map[int64]*inventory.Lot
	packages   map[int64]*inventory.Package
	quants     map[int64]*inventory.Quant
	moves      map[int64]*inventory.Move
	lines      map[int64]*inventory.MoveLine

	// locks maps a quant id to the transaction holding its row lock
	locks map[int64]*memoryTx
}

// ストレージインターフェースを実装することを明示
var (
	_ inventory.Storage = (*MemoryStorage)(nil)
	_ inventory.Tx      = (*memoryTx)(nil)
)

// NewMemoryStorage creates an empty in-memory storage
// 空のインメモリストレージを作成
func NewMemoryStorage(logger *zap.Logger) *MemoryStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStorage{
		logger:     logger,
		categories: make(map[int64]*inventory.Category),
		products:   make(map[int64]*inventory.Product),
		locations:  make(map[int64]*inventory.Location),
		lots:       make(map[int64]*inventory.Lot),
		packages:   make(map[int64]*inventory.Package),
		quants:     make(map[int64]*inventory.Quant),
		moves:      make(map[int64]*inventory.Move),
		lines:      make(map[int64]*inventory.MoveLine),
		locks:      make(map[int64]*memoryTx),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *MemoryStorage) newID() int64 {
	s.nextID++
	return s.nextID
}

// Begin starts a transaction
// トランザクションを開始
func (s *MemoryStorage) Begin(ctx context.Context) (inventory.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{s: s, savepoints: make(map[string]int)}, nil
}

// Ping always succeeds
func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close releases nothing
func (s *MemoryStorage) Close() error {
	return nil
}

// Master data administration, outside of engine transactions
// マスタデータ登録（エンジンのトランザクション外）

// CreateCategory stores a product category
func (s *MemoryStorage) CreateCategory(ctx context.Context, category *inventory.Category) error {
	if err := inventory.ValidateRemovalStrategy(category.RemovalStrategy); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if category.ID == 0 {
		category.ID = s.newID()
	}
	c := *category
	s.categories[c.ID] = &c
	return nil
}

// CreateProduct stores a product
// 製品を登録
func (s *MemoryStorage) CreateProduct(ctx context.Context, product *inventory.Product) error {
	if err := inventory.ValidateProduct(product); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.ID == 0 {
		product.ID = s.newID()
	}
	p := copyProduct(product)
	s.products[p.ID] = p
	return nil
}

// CreateLocation stores a location
// ロケーションを登録
func (s *MemoryStorage) CreateLocation(ctx context.Context, location *inventory.Location) error {
	if err := inventory.ValidateLocation(location); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if location.ParentID != 0 {
		if _, ok := s.locations[location.ParentID]; !ok {
			return inventory.ErrLocationNotFound
		}
	}
	if location.ID == 0 {
		location.ID = s.newID()
	}
	l := *location
	s.locations[l.ID] = &l
	return nil
}

// CreatePackage stores a package
func (s *MemoryStorage) CreatePackage(ctx context.Context, pkg *inventory.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pkg.ID == 0 {
		pkg.ID = s.newID()
	}
	if pkg.Use == "" {
		pkg.Use = inventory.PackageDisposable
	}
	p := *pkg
	s.packages[p.ID] = &p
	return nil
}

// AllQuants returns a snapshot of every quant ordered by id
// 全クォントのスナップショットを返す
func (s *MemoryStorage) AllQuants() []inventory.Quant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Quant, 0, len(s.quants))
	for _, q := range s.quants {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func copyProduct(p *inventory.Product) *inventory.Product {
	c := *p
	if p.InventoryLocations != nil {
		c.InventoryLocations = make(map[int64]int64, len(p.InventoryLocations))
		for k, v := range p.InventoryLocations {
			c.InventoryLocations[k] = v
		}
	}
	return &c
}

func copyMove(m *inventory.Move) *inventory.Move {
	c := *m
	c.OriginMoveIDs = append([]int64(nil), m.OriginMoveIDs...)
	if m.DoneAt != nil {
		t := *m.DoneAt
		c.DoneAt = &t
	}
	return &c
}

// memoryTx is a MemoryStorage transaction.
// Every write appends an undo step; savepoints remember the undo length.
type memoryTx struct {
	s          *MemoryStorage
	undo       []func()
	savepoints map[string]int
	done       bool
}

func (tx *memoryTx) lock() error {
	tx.s.mu.Lock()
	if tx.done {
		tx.s.mu.Unlock()
		return ErrTxClosed
	}
	return nil
}

func (tx *memoryTx) unlock() {
	tx.s.mu.Unlock()
}

// releaseLocks frees every row lock of the transaction; caller holds s.mu
func (tx *memoryTx) releaseLocks() {
	for id, owner := range tx.s.locks {
		if owner == tx {
			delete(tx.s.locks, id)
		}
	}
	tx.s.cond.Broadcast()
}

func (tx *memoryTx) Commit() error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	tx.done = true
	tx.undo = nil
	tx.releaseLocks()
	return nil
}

func (tx *memoryTx) Rollback() error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	tx.rollbackTo(0)
	tx.done = true
	tx.releaseLocks()
	return nil
}

// rollbackTo undoes writes past mark; caller holds s.mu
func (tx *memoryTx) rollbackTo(mark int) {
	for i := len(tx.undo) - 1; i >= mark; i-- {
		tx.undo[i]()
	}
	tx.undo = tx.undo[:mark]
	tx.s.cond.Broadcast()
}

func (tx *memoryTx) Savepoint(ctx context.Context, name string) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	tx.savepoints[name] = len(tx.undo)
	return nil
}

func (tx *memoryTx) RollbackToSavepoint(ctx context.Context, name string) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	mark, ok := tx.savepoints[name]
	if !ok {
		return inventory.NewStorageError("rollback_to_savepoint", "セーブポイントが存在しません: "+name, nil)
	}
	tx.rollbackTo(mark)
	return nil
}

func (tx *memoryTx) ReleaseSavepoint(ctx context.Context, name string) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	if _, ok := tx.savepoints[name]; !ok {
		return inventory.NewStorageError("release_savepoint", "セーブポイントが存在しません: "+name, nil)
	}
	delete(tx.savepoints, name)
	return nil
}

// acquire takes the row lock of a quant, waiting while another transaction holds it;
// caller holds s.mu
func (tx *memoryTx) acquire(quantID int64) {
	for {
		owner, held := tx.s.locks[quantID]
		if !held || owner == tx {
			break
		}
		tx.s.cond.Wait()
	}
	if _, held := tx.s.locks[quantID]; !held {
		tx.s.locks[quantID] = tx
		tx.undo = append(tx.undo, func() {
			if tx.s.locks[quantID] == tx {
				delete(tx.s.locks, quantID)
			}
		})
	}
}

func (tx *memoryTx) GetProduct(ctx context.Context, productID int64) (*inventory.Product, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	p, ok := tx.s.products[productID]
	if !ok {
		return nil, inventory.ErrProductNotFound
	}
	return copyProduct(p), nil
}

func (tx *memoryTx) GetCategory(ctx context.Context, categoryID int64) (*inventory.Category, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	c, ok := tx.s.categories[categoryID]
	if !ok {
		return nil, inventory.ErrCategoryNotFound
	}
	cp := *c
	return &cp, nil
}

func (tx *memoryTx) GetLocation(ctx context.Context, locationID int64) (*inventory.Location, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	l, ok := tx.s.locations[locationID]
	if !ok {
		return nil, inventory.ErrLocationNotFound
	}
	cp := *l
	return &cp, nil
}

func (tx *memoryTx) ChildLocationIDs(ctx context.Context, locationID int64) ([]int64, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	if _, ok := tx.s.locations[locationID]; !ok {
		return nil, inventory.ErrLocationNotFound
	}

	ids := make([]int64, 0)
	for id := range tx.s.locations {
		if tx.s.isDescendant(id, locationID) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// isDescendant reports whether id is ancestor or below it; caller holds s.mu
func (s *MemoryStorage) isDescendant(id, ancestor int64) bool {
	seen := make(map[int64]bool)
	for cur := id; cur != 0 && !seen[cur]; {
		if cur == ancestor {
			return true
		}
		seen[cur] = true
		l, ok := s.locations[cur]
		if !ok {
			return false
		}
		cur = l.ParentID
	}
	return false
}

func (tx *memoryTx) GetLot(ctx context.Context, lotID int64) (*inventory.Lot, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	l, ok := tx.s.lots[lotID]
	if !ok {
		return nil, inventory.ErrLotNotFound
	}
	cp := *l
	return &cp, nil
}

func (tx *memoryTx) FindLot(ctx context.Context, productID int64, name string, companyID int64) (*inventory.Lot, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	for _, l := range tx.s.lots {
		if l.ProductID == productID && l.Name == name && l.CompanyID == companyID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, inventory.ErrLotNotFound
}

func (tx *memoryTx) CreateLot(ctx context.Context, lot *inventory.Lot) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	for _, l := range tx.s.lots {
		if l.ProductID == lot.ProductID && l.Name == lot.Name && l.CompanyID == lot.CompanyID {
			return inventory.ErrDuplicateLot
		}
	}
	lot.ID = tx.s.newID()
	cp := *lot
	tx.s.lots[cp.ID] = &cp
	tx.undo = append(tx.undo, func() { delete(tx.s.lots, cp.ID) })
	return nil
}

func (tx *memoryTx) GetPackage(ctx context.Context, packageID int64) (*inventory.Package, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	p, ok := tx.s.packages[packageID]
	if !ok {
		return nil, inventory.ErrPackageNotFound
	}
	cp := *p
	return &cp, nil
}

func (tx *memoryTx) PackageQuants(ctx context.Context, packageID int64) ([]*inventory.Quant, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	out := make([]*inventory.Quant, 0)
	for _, q := range tx.s.quants {
		if q.PackageID == packageID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) SearchQuants(ctx context.Context, filter inventory.QuantFilter) ([]*inventory.Quant, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	var locations map[int64]bool
	if len(filter.LocationIDs) > 0 {
		locations = make(map[int64]bool, len(filter.LocationIDs))
		for _, id := range filter.LocationIDs {
			locations[id] = true
		}
	}
	var usages map[inventory.LocationUsage]bool
	if len(filter.Usages) > 0 {
		usages = make(map[inventory.LocationUsage]bool, len(filter.Usages))
		for _, u := range filter.Usages {
			usages[u] = true
		}
	}

	out := make([]*inventory.Quant, 0)
	for _, q := range tx.s.quants {
		if filter.ProductID != 0 && q.ProductID != filter.ProductID {
			continue
		}
		if filter.CompanyID != 0 && q.CompanyID != filter.CompanyID {
			continue
		}
		if locations != nil && !locations[q.LocationID] {
			continue
		}
		if usages != nil {
			l, ok := tx.s.locations[q.LocationID]
			if !ok || !usages[l.Usage] {
				continue
			}
		}
		if !matchOptional(q.LotID, filter.LotID, filter.Strict) ||
			!matchOptional(q.PackageID, filter.PackageID, filter.Strict) ||
			!matchOptional(q.OwnerID, filter.OwnerID, filter.Strict) {
			continue
		}
		if filter.NonZero && q.Quantity.IsZero() {
			continue
		}
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func matchOptional(value, want int64, strict bool) bool {
	if strict || want != 0 {
		return value == want
	}
	return true
}

func (tx *memoryTx) GetQuant(ctx context.Context, quantID int64) (*inventory.Quant, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	q, ok := tx.s.quants[quantID]
	if !ok {
		return nil, inventory.ErrQuantNotFound
	}
	cp := *q
	return &cp, nil
}

func (tx *memoryTx) LockQuant(ctx context.Context, quantID int64) (*inventory.Quant, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	q, ok := tx.s.quants[quantID]
	if !ok {
		return nil, inventory.ErrQuantNotFound
	}
	if owner, held := tx.s.locks[quantID]; held && owner != tx {
		return nil, inventory.ErrLockNotAvailable
	}
	tx.acquire(quantID)
	cp := *q
	return &cp, nil
}

func (tx *memoryTx) CreateQuant(ctx context.Context, quant *inventory.Quant) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	quant.ID = tx.s.newID()
	cp := *quant
	tx.s.quants[cp.ID] = &cp
	tx.s.locks[cp.ID] = tx
	tx.undo = append(tx.undo, func() {
		delete(tx.s.quants, cp.ID)
		delete(tx.s.locks, cp.ID)
	})
	return nil
}

func (tx *memoryTx) UpdateQuant(ctx context.Context, quant *inventory.Quant) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	tx.acquire(quant.ID)
	prev, ok := tx.s.quants[quant.ID]
	if !ok {
		return inventory.ErrQuantNotFound
	}
	cp := *quant
	tx.s.quants[cp.ID] = &cp
	tx.undo = append(tx.undo, func() { tx.s.quants[prev.ID] = prev })
	return nil
}

// PatchQuant waits for the row lock and applies the patch to the current row
func (tx *memoryTx) PatchQuant(ctx context.Context, quantID int64, patch inventory.QuantPatch) (*inventory.Quant, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	if _, ok := tx.s.quants[quantID]; !ok {
		return nil, inventory.ErrQuantNotFound
	}
	tx.acquire(quantID)
	// 待機中に削除されている場合がある
	prev, ok := tx.s.quants[quantID]
	if !ok {
		return nil, inventory.ErrQuantNotFound
	}

	cp := *prev
	cp.ReservedQuantity = cp.ReservedQuantity.Add(patch.ReservedDelta)
	if patch.PackageID != nil {
		cp.PackageID = *patch.PackageID
	}
	switch {
	case patch.ClearInventory:
		cp.InventoryQuantity = decimal.Zero
		cp.InventoryQuantitySet = false
	case patch.InventoryQuantity != nil:
		cp.InventoryQuantity = *patch.InventoryQuantity
		cp.InventoryQuantitySet = true
	}
	tx.s.quants[quantID] = &cp
	tx.undo = append(tx.undo, func() { tx.s.quants[prev.ID] = prev })

	out := cp
	return &out, nil
}

func (tx *memoryTx) DeleteQuants(ctx context.Context, quantIDs []int64) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	for _, id := range quantIDs {
		tx.acquire(id)
		prev, ok := tx.s.quants[id]
		if !ok {
			continue
		}
		delete(tx.s.quants, id)
		tx.undo = append(tx.undo, func() { tx.s.quants[prev.ID] = prev })
	}
	return nil
}

type bucket struct {
	companyID, productID, locationID, lotID, packageID, ownerID int64
}

func (tx *memoryTx) DuplicateQuantGroups(ctx context.Context) ([][]int64, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()

	groups := make(map[bucket][]int64)
	for _, q := range tx.s.quants {
		k := bucket{q.CompanyID, q.ProductID, q.LocationID, q.LotID, q.PackageID, q.OwnerID}
		groups[k] = append(groups[k], q.ID)
	}

	out := make([][]int64, 0)
	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out = append(out, ids)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}

func (tx *memoryTx) DeleteZeroQuants(ctx context.Context, precision int32) (int64, error) {
	if err := tx.lock(); err != nil {
		return 0, err
	}
	defer tx.unlock()

	isZero := func(q *inventory.Quant) bool {
		return q.Quantity.Round(precision).IsZero() && q.ReservedQuantity.Round(precision).IsZero()
	}

	candidates := make([]int64, 0)
	for id, q := range tx.s.quants {
		if isZero(q) {
			candidates = append(candidates, id)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	var deleted int64
	for _, id := range candidates {
		tx.acquire(id)
		prev, ok := tx.s.quants[id]
		if !ok || !isZero(prev) {
			continue
		}
		delete(tx.s.quants, id)
		tx.undo = append(tx.undo, func() { tx.s.quants[prev.ID] = prev })
		deleted++
	}
	return deleted, nil
}

func (tx *memoryTx) CreateMove(ctx context.Context, move *inventory.Move) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	move.ID = tx.s.newID()
	cp := copyMove(move)
	tx.s.moves[cp.ID] = cp
	tx.undo = append(tx.undo, func() { delete(tx.s.moves, cp.ID) })
	return nil
}

func (tx *memoryTx) GetMove(ctx context.Context, moveID int64) (*inventory.Move, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	m, ok := tx.s.moves[moveID]
	if !ok {
		return nil, inventory.ErrMoveNotFound
	}
	return copyMove(m), nil
}

func (tx *memoryTx) UpdateMove(ctx context.Context, move *inventory.Move) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	prev, ok := tx.s.moves[move.ID]
	if !ok {
		return inventory.ErrMoveNotFound
	}
	tx.s.moves[move.ID] = copyMove(move)
	tx.undo = append(tx.undo, func() { tx.s.moves[prev.ID] = prev })
	return nil
}

func (tx *memoryTx) DestinationMoves(ctx context.Context, moveID int64) ([]*inventory.Move, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	out := make([]*inventory.Move, 0)
	for _, m := range tx.s.moves {
		for _, origin := range m.OriginMoveIDs {
			if origin == moveID {
				out = append(out, copyMove(m))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) CreateMoveLine(ctx context.Context, line *inventory.MoveLine) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	if _, ok := tx.s.moves[line.MoveID]; !ok {
		return inventory.ErrMoveNotFound
	}
	line.ID = tx.s.newID()
	cp := *line
	tx.s.lines[cp.ID] = &cp
	tx.undo = append(tx.undo, func() { delete(tx.s.lines, cp.ID) })
	return nil
}

func (tx *memoryTx) GetMoveLine(ctx context.Context, lineID int64) (*inventory.MoveLine, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	l, ok := tx.s.lines[lineID]
	if !ok {
		return nil, inventory.ErrMoveLineNotFound
	}
	cp := *l
	return &cp, nil
}

func (tx *memoryTx) UpdateMoveLine(ctx context.Context, line *inventory.MoveLine) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	prev, ok := tx.s.lines[line.ID]
	if !ok {
		return inventory.ErrMoveLineNotFound
	}
	cp := *line
	tx.s.lines[cp.ID] = &cp
	tx.undo = append(tx.undo, func() { tx.s.lines[prev.ID] = prev })
	return nil
}

func (tx *memoryTx) DeleteMoveLine(ctx context.Context, lineID int64) error {
	if err := tx.lock(); err != nil {
		return err
	}
	defer tx.unlock()
	prev, ok := tx.s.lines[lineID]
	if !ok {
		return inventory.ErrMoveLineNotFound
	}
	delete(tx.s.lines, lineID)
	tx.undo = append(tx.undo, func() { tx.s.lines[prev.ID] = prev })
	return nil
}

func (tx *memoryTx) MoveLines(ctx context.Context, moveID int64) ([]*inventory.MoveLine, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	out := make([]*inventory.MoveLine, 0)
	for _, l := range tx.s.lines {
		if l.MoveID == moveID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memoryTx) MoveLinesByPackage(ctx context.Context, packageID int64) ([]*inventory.MoveLine, error) {
	if err := tx.lock(); err != nil {
		return nil, err
	}
	defer tx.unlock()
	out := make([]*inventory.MoveLine, 0)
	for _, l := range tx.s.lines {
		if l.PackageID != packageID {
			continue
		}
		m, ok := tx.s.moves[l.MoveID]
		if !ok || m.State == inventory.MoveStateDone || m.State == inventory.MoveStateCancel {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
