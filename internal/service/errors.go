// Пакет service — бизнес-логика сервиса хранения файлов.
// errors.go — сентинельные ошибки сервисного слоя.
package service

import "errors"

// Сентинельные ошибки сервисного слоя. HTTP-слой сопоставляет их
// со статус-кодами через errors.Is.
var (
	// ErrValidation — входные данные пакета некорректны, I/O не начинался.
	ErrValidation = errors.New("ошибка валидации пакета загрузки")
	// ErrUpload — пакет загрузки не выполнен и откачен.
	ErrUpload = errors.New("ошибка загрузки пакета")
	// ErrDeletion — пакетное удаление не выполнено, отчёт не сформирован.
	ErrDeletion = errors.New("ошибка пакетного удаления")
)
