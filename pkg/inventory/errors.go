package inventory

import (
	"errors"
	"fmt"
)

// Common inventory errors
// 共通の在庫エラー定義

var (
	// ErrProductNotFound is returned when a product doesn't exist
	// 製品が存在しない場合のエラー
	ErrProductNotFound = errors.New("製品が見つかりません")

	// ErrLocationNotFound is returned when a location doesn't exist
	// ロケーションが存在しない場合のエラー
	ErrLocationNotFound = errors.New("ロケーションが見つかりません")

	// ErrCategoryNotFound is returned when a product category doesn't exist
	// 製品カテゴリが存在しない場合のエラー
	ErrCategoryNotFound = errors.New("製品カテゴリが見つかりません")

	// ErrLotNotFound is returned when a lot doesn't exist
	// ロットが存在しない場合のエラー
	ErrLotNotFound = errors.New("ロットが見つかりません")

	// ErrPackageNotFound is returned when a package doesn't exist
	// パッケージが存在しない場合のエラー
	ErrPackageNotFound = errors.New("パッケージが見つかりません")

	// ErrQuantNotFound is returned when a quant doesn't exist
	// クォントが存在しない場合のエラー
	ErrQuantNotFound = errors.New("クォントが見つかりません")

	// ErrMoveNotFound is returned when a stock move doesn't exist
	// 在庫移動が存在しない場合のエラー
	ErrMoveNotFound = errors.New("在庫移動が見つかりません")

	// ErrMoveLineNotFound is returned when a move line doesn't exist
	// 移動明細が存在しない場合のエラー
	ErrMoveLineNotFound = errors.New("移動明細が見つかりません")

	// ErrDuplicateLot is returned when a lot name is already used for the product
	// 同一製品で既に使用されているロット番号の場合のエラー
	ErrDuplicateLot = errors.New("ロット番号は既に存在します")

	// ErrNegativeQuantity is returned when a negative quantity is provided
	// 負の数量が指定された場合のエラー
	ErrNegativeQuantity = errors.New("数量は正の値である必要があります")

	// ErrLockNotAvailable is returned by Tx.LockQuant when the row is locked by another transaction.
	// It never leaves the engine.
	// 行ロックを取得できなかった場合の内部エラー（外部には返さない）
	ErrLockNotAvailable = errors.New("行ロックを取得できませんでした")

	// ErrDuplicateBucket is returned by storage when a merge races into a unique key violation.
	// It is logged, never propagated.
	// マージ時の一意制約違反を表す内部エラー
	ErrDuplicateBucket = errors.New("クォントのバケットが重複しています")
)

// ConfigurationError is raised before any ledger work when the request targets
// a non storable product or a view location
// 在庫対象外の製品やビューロケーションを指定した場合のエラー
type ConfigurationError struct {
	Entity string `json:"entity"` // 対象エンティティ
	Reason string `json:"reason"` // 理由
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("設定エラー [%s]: %s", e.Entity, e.Reason)
}

// InsufficientStockError is returned when a reservation exceeds what is available
// 予約要求が利用可能数量を超える場合のエラー
type InsufficientStockError struct {
	Product   string `json:"product"`   // 製品表示名
	Requested string `json:"requested"` // 要求数量
	Available string `json:"available"` // 利用可能数量
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("製品 %s の在庫が不足しているため予約できません (要求: %s, 利用可能: %s)", e.Product, e.Requested, e.Available)
}

// UnreserveOverflowError is returned when an unreservation exceeds what is reserved
// 予約解除量が予約済み数量を超える場合のエラー
type UnreserveOverflowError struct {
	Product   string `json:"product"`   // 製品表示名
	Requested string `json:"requested"` // 解除要求数量
	Reserved  string `json:"reserved"`  // 予約済み数量
}

func (e UnreserveOverflowError) Error() string {
	return fmt.Sprintf("製品 %s の予約済み数量を超えて予約解除しようとしています (要求: %s, 予約済み: %s)", e.Product, e.Requested, e.Reserved)
}

// UnknownStrategyError is returned for a removal strategy other than fifo or lifo
// 未対応の払出戦略が指定された場合のエラー
type UnknownStrategyError struct {
	Strategy string `json:"strategy"`
}

func (e UnknownStrategyError) Error() string {
	return fmt.Sprintf("払出戦略 %q は実装されていません", e.Strategy)
}

// TrackingViolationError is returned when a serial number would be present more than once
// シリアル番号の数量が1を超える場合のエラー
type TrackingViolationError struct {
	Product string `json:"product"` // 製品表示名
	Lot     string `json:"lot"`     // シリアル番号
}

func (e TrackingViolationError) Error() string {
	return fmt.Sprintf("シリアル番号 %s (製品 %s) は同一ロケーションで数量1を超えることはできません", e.Lot, e.Product)
}

// ValidationError represents a validation error with details
// 詳細付きバリデーションエラーを表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

// BusinessRuleError represents a business rule violation such as an invalid move state transition
// ビジネスルール違反（不正な状態遷移など）を表現
type BusinessRuleError struct {
	Rule    string `json:"rule"`    // ルール名
	Message string `json:"message"` // エラーメッセージ
	Context string `json:"context"` // コンテキスト情報
}

func (e BusinessRuleError) Error() string {
	return fmt.Sprintf("ビジネスルール違反 [%s]: %s (コンテキスト: %s)", e.Rule, e.Message, e.Context)
}

// StorageError represents a storage layer error
// ストレージ層のエラーを表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e StorageError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates a new configuration error
// 新しい設定エラーを作成
func NewConfigurationError(entity, reason string) *ConfigurationError {
	return &ConfigurationError{Entity: entity, Reason: reason}
}

// NewInsufficientStockError creates a new insufficient stock error
func NewInsufficientStockError(product, requested, available string) *InsufficientStockError {
	return &InsufficientStockError{Product: product, Requested: requested, Available: available}
}

// NewUnreserveOverflowError creates a new unreserve overflow error
func NewUnreserveOverflowError(product, requested, reserved string) *UnreserveOverflowError {
	return &UnreserveOverflowError{Product: product, Requested: requested, Reserved: reserved}
}

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewBusinessRuleError creates a new business rule error
// 新しいビジネスルールエラーを作成
func NewBusinessRuleError(rule, message, context string) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// IsUserError reports whether err is meant to be shown to the caller as is
// 呼び出し元にそのまま提示すべきエラーかどうか
func IsUserError(err error) bool {
	var (
		cfg   *ConfigurationError
		ins   *InsufficientStockError
		unres *UnreserveOverflowError
		strat *UnknownStrategyError
		track *TrackingViolationError
		val   *ValidationError
		rule  *BusinessRuleError
	)
	return errors.As(err, &cfg) || errors.As(err, &ins) || errors.As(err, &unres) ||
		errors.As(err, &strat) || errors.As(err, &track) || errors.As(err, &val) ||
		errors.As(err, &rule)
}
