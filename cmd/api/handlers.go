package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiQuant/pkg/inventory"
)

// Catalog registers master data; both storages implement it
// マスタデータ登録のインターフェース
type Catalog interface {
	CreateCategory(ctx context.Context, category *inventory.Category) error
	CreateProduct(ctx context.Context, product *inventory.Product) error
	CreateLocation(ctx context.Context, location *inventory.Location) error
	CreatePackage(ctx context.Context, pkg *inventory.Package) error
}

// Handlers holds HTTP handlers for the quant API
// クォントAPI用のHTTPハンドラーを保持
type Handlers struct {
	manager   *inventory.Manager
	storage   inventory.Storage
	catalog   Catalog
	companyID int64
	logger    *zap.Logger
}

// NewHandlers creates new HTTP handlers
// 新しいHTTPハンドラーを作成
func NewHandlers(manager *inventory.Manager, storage inventory.Storage, catalog Catalog, companyID int64, logger *zap.Logger) *Handlers {
	return &Handlers{
		manager:   manager,
		storage:   storage,
		catalog:   catalog,
		companyID: companyID,
		logger:    logger,
	}
}

// APIResponse represents standard API response format
// 標準的なAPIレスポンス形式を表現
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// UpdateAvailableRequest represents request to change on-hand quantity
// 手持数量変更リクエストを表現
type UpdateAvailableRequest struct {
	Key    inventory.QuantKey `json:"key"`
	Delta  decimal.Decimal    `json:"delta"`
	InDate *time.Time         `json:"in_date,omitempty"`
}

// UpdateReservedRequest represents request to change reserved quantity
// 予約数量変更リクエストを表現
type UpdateReservedRequest struct {
	Key    inventory.QuantKey `json:"key"`
	Delta  decimal.Decimal    `json:"delta"`
	Strict bool               `json:"strict"`
}

// CountRequest represents a counted quantity
// 実棚数量リクエストを表現
type CountRequest struct {
	Counted decimal.Decimal `json:"counted"`
}

// ApplyInventoryRequest represents request to apply counted quantities
type ApplyInventoryRequest struct {
	QuantIDs []int64 `json:"quant_ids"`
}

// CreateLotRequest represents request to create a lot
// ロット作成リクエストを表現
type CreateLotRequest struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
}

// MoveResponse is a move with its lines
// 在庫移動と明細
type MoveResponse struct {
	Move  *inventory.Move       `json:"move"`
	Lines []*inventory.MoveLine `json:"lines"`
}

// EditMoveLineResponse is an edited line with its serial number advisory
type EditMoveLineResponse struct {
	Line    *inventory.MoveLine `json:"line"`
	Warning string              `json:"warning,omitempty"`
}

// HealthCheck handles health check requests
// ヘルスチェックリクエストを処理
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.storage.Ping(r.Context()); err != nil {
		h.logger.Error("ストレージへの疎通確認に失敗しました", zap.Error(err))
		h.sendError(w, http.StatusServiceUnavailable, "ストレージに接続できません")
		return
	}

	h.sendSuccess(w, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now(),
		"service":   "zaiQuant",
	})
}

// context returns the request context carrying the user and the company of the request
// リクエストのユーザーと会社を取得
func (h *Handlers) context(r *http.Request) (context.Context, int64, error) {
	ctx := r.Context()
	if user := r.Header.Get("X-User-ID"); user != "" {
		ctx = inventory.WithUser(ctx, user)
	}
	companyID := h.companyID
	if v := r.Header.Get("X-Company-ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return nil, 0, inventory.NewValidationError("X-Company-ID", "無効な会社IDです", v)
		}
		companyID = id
	}
	return ctx, companyID, nil
}

// 在庫照会

// Gather handles quant search requests
// クォント検索リクエストを処理
func (h *Handlers) Gather(w http.ResponseWriter, r *http.Request) {
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	key, err := queryKey(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	quants, err := h.manager.Gather(ctx, companyID, key, queryBool(r, "strict"))
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if quants == nil {
		quants = []*inventory.Quant{}
	}
	h.sendSuccess(w, quants)
}

// GetAvailable handles available quantity requests
// 利用可能数量リクエストを処理
func (h *Handlers) GetAvailable(w http.ResponseWriter, r *http.Request) {
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	key, err := queryKey(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	available, err := h.manager.GetAvailableQuantity(ctx, companyID, key, queryBool(r, "strict"), queryBool(r, "allow_negative"))
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{
		"key":       key,
		"available": available,
	})
}

// 台帳操作

// UpdateAvailable handles on-hand quantity changes
// 手持数量変更リクエストを処理
func (h *Handlers) UpdateAvailable(w http.ResponseWriter, r *http.Request) {
	var req UpdateAvailableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	available, inDate, err := h.manager.UpdateAvailableQuantity(ctx, companyID, req.Key, req.Delta, req.InDate)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, map[string]interface{}{
		"available": available,
		"in_date":   inDate,
	})
}

// UpdateReserved handles reserved quantity changes
// 予約数量変更リクエストを処理
func (h *Handlers) UpdateReserved(w http.ResponseWriter, r *http.Request) {
	var req UpdateReservedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	reservations, err := h.manager.UpdateReservedQuantity(ctx, companyID, req.Key, req.Delta, req.Strict)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, reservations)
}

// QuantTasks runs quant maintenance on demand
// クォント保守を即時実行
func (h *Handlers) QuantTasks(w http.ResponseWriter, r *http.Request) {
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if err := h.manager.QuantTasks(ctx, companyID); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, map[string]string{
		"message": "クォント保守が完了しました",
	})
}

// 棚卸

// SetInventory records a counted quantity on a quant
// クォントに実棚数量を記録
func (h *Handlers) SetInventory(w http.ResponseWriter, r *http.Request) {
	quantID, err := pathID(r, "quantId")
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	var req CountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	var result inventory.SerialCheckResult
	err = h.manager.Do(ctx, companyID, func(s *inventory.Session) error {
		var err error
		result, err = s.SetInventoryQuantity(ctx, quantID, req.Counted)
		return err
	})
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, result)
}

// ApplyInventory applies a counted quantity to a quant
// クォントの棚卸を適用
func (h *Handlers) ApplyInventory(w http.ResponseWriter, r *http.Request) {
	quantID, err := pathID(r, "quantId")
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	var req CountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	move, err := h.manager.ApplyInventory(ctx, companyID, quantID, req.Counted)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, move)
}

// ApplyCounted applies every counted quantity recorded on the given quants
// 記録済みの実棚数量をまとめて適用
func (h *Handlers) ApplyCounted(w http.ResponseWriter, r *http.Request) {
	var req ApplyInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	var moves []*inventory.Move
	err = h.manager.Do(ctx, companyID, func(s *inventory.Session) error {
		var err error
		moves, err = s.ActionApplyInventory(ctx, req.QuantIDs)
		return err
	})
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, moves)
}

// CheckSerial handles serial number placement checks
// シリアル番号の所在確認を処理
func (h *Handlers) CheckSerial(w http.ResponseWriter, r *http.Request) {
	var req inventory.SerialCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	result, err := h.manager.CheckSerialNumber(ctx, companyID, req)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, result)
}

// 在庫移動

// CreateMove handles move creation
// 在庫移動作成を処理
func (h *Handlers) CreateMove(w http.ResponseWriter, r *http.Request) {
	var req inventory.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	var move *inventory.Move
	err = h.manager.Do(ctx, companyID, func(s *inventory.Session) error {
		var err error
		move, err = s.CreateMove(ctx, req)
		return err
	})
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendCreated(w, move)
}

// GetMove returns a move with its lines
// 在庫移動を明細付きで返す
func (h *Handlers) GetMove(w http.ResponseWriter, r *http.Request) {
	h.moveAction(w, r, func(ctx context.Context, s *inventory.Session, moveID int64) (*inventory.Move, error) {
		return s.GetMove(ctx, moveID)
	})
}

// ConfirmMove confirms a draft move
func (h *Handlers) ConfirmMove(w http.ResponseWriter, r *http.Request) {
	h.moveAction(w, r, func(ctx context.Context, s *inventory.Session, moveID int64) (*inventory.Move, error) {
		return s.Confirm(ctx, moveID)
	})
}

// AssignMove reserves stock for a move
// 在庫移動の引当を処理
func (h *Handlers) AssignMove(w http.ResponseWriter, r *http.Request) {
	h.moveAction(w, r, func(ctx context.Context, s *inventory.Session, moveID int64) (*inventory.Move, error) {
		return s.Assign(ctx, moveID)
	})
}

// UnreserveMove releases the reservations of a move
func (h *Handlers) UnreserveMove(w http.ResponseWriter, r *http.Request) {
	h.moveAction(w, r, func(ctx context.Context, s *inventory.Session, moveID int64) (*inventory.Move, error) {
		return s.Unreserve(ctx, moveID)
	})
}

// CancelMove cancels a move
func (h *Handlers) CancelMove(w http.ResponseWriter, r *http.Request) {
	h.moveAction(w, r, func(ctx context.Context, s *inventory.Session, moveID int64) (*inventory.Move, error) {
		return s.Cancel(ctx, moveID)
	})
}

// DoneMove completes a move
// 在庫移動の完了を処理
func (h *Handlers) DoneMove(w http.ResponseWriter, r *http.Request) {
	var opts inventory.DoneOptions
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
			return
		}
	}
	h.moveAction(w, r, func(ctx context.Context, s *inventory.Session, moveID int64) (*inventory.Move, error) {
		backorder, err := s.Done(ctx, moveID, opts)
		if err != nil {
			return nil, err
		}
		if backorder != nil {
			w.Header().Set("X-Backorder-ID", strconv.FormatInt(backorder.ID, 10))
		}
		return s.GetMove(ctx, moveID)
	})
}

// AddMoveLine adds a line by hand to a move
// 移動明細を手動で追加
func (h *Handlers) AddMoveLine(w http.ResponseWriter, r *http.Request) {
	var in inventory.MoveLineInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	h.moveAction(w, r, func(ctx context.Context, s *inventory.Session, moveID int64) (*inventory.Move, error) {
		if _, err := s.AddMoveLine(ctx, moveID, in); err != nil {
			return nil, err
		}
		return s.GetMove(ctx, moveID)
	})
}

// EditMoveLine edits a move line
// 移動明細の編集を処理
func (h *Handlers) EditMoveLine(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "lineId")
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	var edit inventory.MoveLineEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	var resp EditMoveLineResponse
	err = h.manager.Do(ctx, companyID, func(s *inventory.Session) error {
		line, check, err := s.EditMoveLine(ctx, lineID, edit)
		if err != nil {
			return err
		}
		resp.Line = line
		resp.Warning = check.Message
		return nil
	})
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, resp)
}

// moveAction runs fn on the move of the request path and answers with the move and its lines
func (h *Handlers) moveAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, *inventory.Session, int64) (*inventory.Move, error)) {
	moveID, err := pathID(r, "moveId")
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	var resp MoveResponse
	err = h.manager.Do(ctx, companyID, func(s *inventory.Session) error {
		move, err := fn(ctx, s, moveID)
		if err != nil {
			return err
		}
		lines, err := s.MoveLines(ctx, move.ID)
		if err != nil {
			return err
		}
		resp.Move = move
		resp.Lines = lines
		return nil
	})
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, resp)
}

// ロット・パッケージ

// CreateLot handles lot creation
// ロット作成を処理
func (h *Handlers) CreateLot(w http.ResponseWriter, r *http.Request) {
	var req CreateLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	var lot *inventory.Lot
	err = h.manager.Do(ctx, companyID, func(s *inventory.Session) error {
		var err error
		lot, err = s.CreateLot(ctx, req.ProductID, req.Name)
		return err
	})
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendCreated(w, lot)
}

// GetPackage returns a package with its content
// パッケージの内容を返す
func (h *Handlers) GetPackage(w http.ResponseWriter, r *http.Request) {
	h.packageAction(w, r, false)
}

// UnpackPackage empties a package
// パッケージを解体
func (h *Handlers) UnpackPackage(w http.ResponseWriter, r *http.Request) {
	h.packageAction(w, r, true)
}

func (h *Handlers) packageAction(w http.ResponseWriter, r *http.Request, unpack bool) {
	packageID, err := pathID(r, "packageId")
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	var content *inventory.PackageContent
	err = h.manager.Do(ctx, companyID, func(s *inventory.Session) error {
		if unpack {
			if err := s.Unpack(ctx, packageID); err != nil {
				return err
			}
		}
		var err error
		content, err = s.PackageContent(ctx, packageID)
		return err
	})
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendSuccess(w, content)
}

// StockReport returns the stock of a location per product, as JSON or CSV
// ロケーションの製品別在庫レポートを返す
func (h *Handlers) StockReport(w http.ResponseWriter, r *http.Request) {
	locationID, err := pathID(r, "locationId")
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	ctx, companyID, err := h.context(r)
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	var report []inventory.StockReportLine
	err = h.manager.Do(ctx, companyID, func(s *inventory.Session) error {
		var err error
		report, err = s.StockReport(ctx, locationID)
		return err
	})
	if err != nil {
		h.sendFailure(w, err)
		return
	}

	if r.URL.Query().Get("format") != "csv" {
		h.sendSuccess(w, report)
		return
	}
	body, err := inventory.StockReportCSV(report)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}

// マスタデータ

// CreateCategory handles product category creation
func (h *Handlers) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var category inventory.Category
	if err := json.NewDecoder(r.Body).Decode(&category); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if err := h.catalog.CreateCategory(r.Context(), &category); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendCreated(w, category)
}

// CreateProduct handles product creation
// 製品作成リクエストを処理
func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var product inventory.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if err := h.catalog.CreateProduct(r.Context(), &product); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendCreated(w, product)
}

// CreateLocation handles create location requests
// ロケーション作成リクエストを処理
func (h *Handlers) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var location inventory.Location
	if err := json.NewDecoder(r.Body).Decode(&location); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if err := h.catalog.CreateLocation(r.Context(), &location); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendCreated(w, location)
}

// CreatePackage handles package creation
func (h *Handlers) CreatePackage(w http.ResponseWriter, r *http.Request) {
	var pkg inventory.Package
	if err := json.NewDecoder(r.Body).Decode(&pkg); err != nil {
		h.sendError(w, http.StatusBadRequest, "無効なリクエスト形式です")
		return
	}
	if err := h.catalog.CreatePackage(r.Context(), &pkg); err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendCreated(w, pkg)
}

// ヘルパーメソッド

// queryKey reads a quant key from the query string
// クエリ文字列からクォントキーを読み取る
func queryKey(r *http.Request) (inventory.QuantKey, error) {
	var key inventory.QuantKey
	fields := []struct {
		name     string
		dst      *int64
		required bool
	}{
		{"product_id", &key.ProductID, true},
		{"location_id", &key.LocationID, true},
		{"lot_id", &key.LotID, false},
		{"package_id", &key.PackageID, false},
		{"owner_id", &key.OwnerID, false},
	}
	q := r.URL.Query()
	for _, f := range fields {
		v := q.Get(f.name)
		if v == "" {
			if f.required {
				return key, inventory.NewValidationError(f.name, "必須パラメータが指定されていません", "")
			}
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			return key, inventory.NewValidationError(f.name, "無効なIDです", v)
		}
		*f.dst = id
	}
	return key, nil
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func pathID(r *http.Request, name string) (int64, error) {
	v := mux.Vars(r)[name]
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, inventory.NewValidationError(name, "無効なIDです", v)
	}
	return id, nil
}

// statusFor maps engine errors to HTTP status codes
// エンジンのエラーをHTTPステータスに変換
func statusFor(err error) int {
	var validation *inventory.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, inventory.ErrLocationNotFound),
		errors.Is(err, inventory.ErrCategoryNotFound),
		errors.Is(err, inventory.ErrLotNotFound),
		errors.Is(err, inventory.ErrPackageNotFound),
		errors.Is(err, inventory.ErrQuantNotFound),
		errors.Is(err, inventory.ErrMoveNotFound),
		errors.Is(err, inventory.ErrMoveLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrDuplicateLot):
		return http.StatusConflict
	case inventory.IsUserError(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// sendFailure sends the error response matching err
func (h *Handlers) sendFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
		message = "内部エラーが発生しました"
	}
	h.sendError(w, status, message)
}

// sendSuccess sends a successful API response
// 成功APIレスポンスを送信
func (h *Handlers) sendSuccess(w http.ResponseWriter, data interface{}) {
	h.send(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (h *Handlers) sendCreated(w http.ResponseWriter, data interface{}) {
	h.send(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

// sendError sends an error API response
// エラーAPIレスポンスを送信
func (h *Handlers) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.send(w, statusCode, APIResponse{Success: false, Error: message})
}

func (h *Handlers) send(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("レスポンス送信に失敗しました", zap.Error(err))
	}
}
