package wal

import "time"

// Status — состояние транзакции в журнале.
type Status string

const (
	// StatusPending — транзакция начата, результат неизвестен.
	StatusPending Status = "pending"
	// StatusCommitted — транзакция завершена успешно.
	StatusCommitted Status = "committed"
	// StatusRolledBack — транзакция откачена.
	StatusRolledBack Status = "rolled_back"
)

// Entry — запись журнала об одной пакетной загрузке.
// Журнал пишется до первого переноса блоба: после рестарта по pending
// записям можно найти и убрать осиротевшие блобы, у которых нет
// записи в каталоге.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции
	TransactionID string `json:"transactionId"`
	// StorageNames — storage name'ы всех файлов пакета
	StorageNames []string `json:"storageNames"`
	// StagedPaths — пути застейдженных файлов пакета
	StagedPaths []string `json:"stagedPaths"`
	// Status — текущее состояние транзакции
	Status Status `json:"status"`
	// StartedAt — время начала транзакции
	StartedAt time.Time `json:"startedAt"`
	// CompletedAt — время завершения (commit или rollback)
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
