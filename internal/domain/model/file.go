// Пакет model — доменные модели сервиса загрузки и анализа CSV-логов.
// FileRecord — единая структура метаданных загруженного файла,
// используется слоем хранения и API-ответами.
package model

import (
	"time"
)

// FileRecord — метаданные загруженного CSV-файла.
// Создаётся атомарно при завершении ingestion и далее не изменяется.
type FileRecord struct {
	// FileID — уникальный идентификатор файла (UUID v4)
	FileID string `json:"file_id"`

	// Filename — оригинальное имя файла при загрузке.
	// Хранится как есть, не используется для адресации на диске.
	Filename string `json:"filename"`

	// Filesize — размер загруженного файла в байтах
	Filesize int64 `json:"filesize"`

	// RowCount — количество успешно распарсенных строк данных (без заголовка)
	RowCount int `json:"row_count"`

	// SkippedRows — количество строк, пропущенных при ingestion
	// (несовпадение числа полей с заголовком)
	SkippedRows int `json:"skipped_rows"`

	// Columns — имена колонок в порядке заголовка CSV
	Columns []string `json:"columns"`

	// HasTimeColumn — файл содержит назначенную колонку времени.
	// false означает, что summary-запросы к файлу невозможны.
	HasTimeColumn bool `json:"has_time_column"`

	// Checksum — SHA-256 хэш оригинального содержимого файла
	Checksum string `json:"checksum"`

	// UploadedAt — дата и время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`
}

// HasColumn проверяет наличие колонки в заголовке файла.
func (f *FileRecord) HasColumn(name string) bool {
	for _, c := range f.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Row — одна распарсенная строка CSV-файла.
// Values содержит значения всех колонок заголовка.
// Timestamp — разобранная метка времени из назначенной колонки;
// nil, если значение не распарсилось или колонка отсутствует.
type Row struct {
	// Seq — порядковый номер строки внутри файла (порядок вставки)
	Seq int64

	// Values — отображение имя колонки → сырое строковое значение
	Values map[string]string

	// Timestamp — метка времени строки (UTC), nil если не распарсилась
	Timestamp *time.Time
}
