// Пакет uploads — разбор multipart-запросов загрузки.
// Файлы стримятся на диск в staging директорию, не буферизуясь в памяти.
// Поле "ops" несёт JSON с опциями пакета, все остальные поля с именем
// "file" трактуются как загружаемые файлы.
package uploads

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/methompson/met-simple-storage/internal/domain/model"
)

// Ошибки разбора запроса.
var (
	// ErrFileTooLarge — файл превышает максимально допустимый размер.
	ErrFileTooLarge = errors.New("файл превышает максимальный размер")
	// ErrTooManyFiles — количество файлов превышает лимит пакета.
	ErrTooManyFiles = errors.New("слишком много файлов в пакете")
	// ErrBadOptions — поле ops содержит некорректный JSON.
	ErrBadOptions = errors.New("некорректное поле ops")
)

// Options — опции пакета загрузки из поля "ops".
type Options struct {
	// IsPrivate — приватность всех файлов пакета, по умолчанию true
	IsPrivate bool `json:"isPrivate"`
}

// ParseOptions разбирает JSON поля "ops". Пустая строка — значения
// по умолчанию. Приватность по умолчанию true: файл становится
// публичным только явным isPrivate=false.
func ParseOptions(raw string) (Options, error) {
	opts := Options{IsPrivate: true}
	if strings.TrimSpace(raw) == "" {
		return opts, nil
	}

	var body struct {
		IsPrivate *bool `json:"isPrivate"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return Options{}, fmt.Errorf("%w: %s", ErrBadOptions, err.Error())
	}

	if body.IsPrivate != nil {
		opts.IsPrivate = *body.IsPrivate
	}
	return opts, nil
}

// ParseResult — результат разбора multipart-запроса.
type ParseResult struct {
	// Payloads — застейдженные файлы в порядке появления в запросе
	Payloads []model.UploadedPayload
	// Options — опции пакета
	Options Options
}

// Parser — стриминговый разбор multipart-запросов загрузки.
type Parser struct {
	stagingDir  string
	maxFileSize int64
	maxFiles    int
}

// NewParser создаёт парсер с лимитами на размер файла и размер пакета.
func NewParser(stagingDir string, maxFileSize int64, maxFiles int) *Parser {
	return &Parser{
		stagingDir:  stagingDir,
		maxFileSize: maxFileSize,
		maxFiles:    maxFiles,
	}
}

// Parse читает multipart-тело запроса, стейджит каждый файл на диск
// и разбирает опции. При любой ошибке все уже застейдженные файлы
// удаляются: запрос либо разобран целиком, либо не оставляет следов.
func (p *Parser) Parse(r *http.Request) (*ParseResult, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения multipart тела: %w", err)
	}

	result := &ParseResult{Options: Options{IsPrivate: true}}

	cleanup := func() {
		for _, payload := range result.Payloads {
			os.Remove(payload.StagedPath)
		}
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("ошибка чтения части запроса: %w", err)
		}

		switch part.FormName() {
		case "ops":
			raw, err := io.ReadAll(io.LimitReader(part, 4096))
			part.Close()
			if err != nil {
				cleanup()
				return nil, fmt.Errorf("ошибка чтения поля ops: %w", err)
			}
			opts, err := ParseOptions(string(raw))
			if err != nil {
				cleanup()
				return nil, err
			}
			result.Options = opts

		case "file":
			if len(result.Payloads) >= p.maxFiles {
				part.Close()
				cleanup()
				return nil, fmt.Errorf("%w: лимит %d", ErrTooManyFiles, p.maxFiles)
			}
			payload, err := p.stagePart(part)
			part.Close()
			if err != nil {
				cleanup()
				return nil, err
			}
			result.Payloads = append(result.Payloads, payload)

		default:
			// Неизвестные поля игнорируются
			part.Close()
		}
	}

	return result, nil
}

// stagePart стримит одну файловую часть во временный файл в staging.
func (p *Parser) stagePart(part *multipart.Part) (model.UploadedPayload, error) {
	tmp, err := os.CreateTemp(p.stagingDir, "upload-*")
	if err != nil {
		return model.UploadedPayload{}, fmt.Errorf("ошибка создания staging файла: %w", err)
	}

	// +1 байт, чтобы отличить файл ровно в лимит от превышения
	written, err := io.Copy(tmp, io.LimitReader(part, p.maxFileSize+1))
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return model.UploadedPayload{}, fmt.Errorf("ошибка записи staging файла: %w", err)
	}
	if written > p.maxFileSize {
		os.Remove(tmp.Name())
		return model.UploadedPayload{}, fmt.Errorf("%w: %s", ErrFileTooLarge, part.FileName())
	}

	return model.UploadedPayload{
		StagedPath:       tmp.Name(),
		OriginalFilename: part.FileName(),
		Size:             written,
	}, nil
}
