// Пакет model — доменные модели Simple Storage.
package model

import (
	"time"
)

// FileRecord — запись каталога метаданных об одном загруженном файле.
// Единственная связь с блоб-хранилищем — поле StorageName.
type FileRecord struct {
	// ID — уникальный идентификатор записи (UUID v4), назначается при вставке
	ID string `json:"id"`
	// OriginalFilename — имя файла, переданное клиентом. Хранится как есть,
	// никогда не используется как путь на диске
	OriginalFilename string `json:"originalFilename"`
	// StorageName — сгенерированный уникальный токен, имя блоба на диске
	StorageName string `json:"storageName"`
	// DateAdded — время вставки записи (UTC)
	DateAdded time.Time `json:"dateAdded"`
	// AuthorID — идентификатор владельца (sub из JWT)
	AuthorID string `json:"authorId"`
	// Size — размер файла в байтах на момент загрузки
	Size int64 `json:"size"`
	// IsPrivate — флаг видимости. По умолчанию true
	IsPrivate bool `json:"isPrivate"`
}

// NewFileRecord — запись каталога до назначения идентификатора.
// Формируется координатором загрузки, ID назначает каталог при вставке.
type NewFileRecord struct {
	OriginalFilename string
	StorageName      string
	DateAdded        time.Time
	AuthorID         string
	Size             int64
	IsPrivate        bool
}

// UploadedPayload — один застейдженный файл из multipart-запроса.
// Живёт только в пределах одного вызова координатора загрузки.
type UploadedPayload struct {
	// StagedPath — абсолютный путь к временному файлу в staging-директории
	StagedPath string
	// OriginalFilename — имя файла, переданное клиентом
	OriginalFilename string
	// Size — размер записанных данных в байтах
	Size int64
}

// DeleteReportEntry — результат удаления одного имени в пакетном удалении.
// FileDetails заполнен, если запись каталога была удалена.
// Errors непуст, если имя отсутствовало в каталоге или блоб не удалился.
type DeleteReportEntry struct {
	Filename    string      `json:"filename"`
	FileDetails *FileRecord `json:"fileDetails,omitempty"`
	Errors      []string    `json:"errors,omitempty"`
}

// SortKey — поле сортировки списка файлов.
type SortKey string

const (
	// SortByFilename — лексикографическая сортировка по оригинальному имени (по возрастанию)
	SortByFilename SortKey = "filename"
	// SortByDateAdded — хронологическая сортировка по дате добавления (по возрастанию)
	SortByDateAdded SortKey = "dateAdded"
)

// ParseSortKey преобразует строку запроса в SortKey.
// Пустая строка и неизвестные значения дают SortByFilename.
func ParseSortKey(s string) SortKey {
	if s == string(SortByDateAdded) {
		return SortByDateAdded
	}
	return SortByFilename
}
