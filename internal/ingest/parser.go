// Пакет ingest — потоковый разбор загружаемых CSV-файлов.
//
// Первая строка — заголовок: имена колонок после trim должны быть
// непустыми и уникальными, иначе ingestion отклоняется целиком.
// Строки данных с несовпадающим числом полей пропускаются и
// подсчитываются (partial success), файл при этом принимается.
//
// Колонка времени определяется по настраиваемому имени. Значения —
// epoch-микросекунды (формат исходного бэкенда) либо текстовые
// метки времени; нераспарсенные значения дают строку без timestamp.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Ошибки разбора заголовка.
var (
	// ErrEmptyFile — файл пуст или не содержит строки заголовка.
	ErrEmptyFile = errors.New("файл пуст или не содержит заголовка")
	// ErrMalformedHeader — заголовок содержит пустые или дублирующиеся имена колонок.
	ErrMalformedHeader = errors.New("некорректный заголовок CSV")
)

// Текстовые форматы метки времени, принимаемые помимо epoch-микросекунд.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Row — одна распарсенная строка данных.
type Row struct {
	// Values — значения по именам колонок заголовка
	Values map[string]string
	// Timestamp — разобранная метка времени (UTC), nil если не распарсилась
	// или колонка времени отсутствует в файле
	Timestamp *time.Time
}

// Parser — потоковый парсер одного CSV-файла.
// Читает строки по одной, не материализуя файл в памяти.
type Parser struct {
	reader     *csv.Reader
	columns    []string
	timeColIdx int // -1 если колонка времени отсутствует
	rowCount   int
	skipped    int
}

// New создаёт парсер, читает и валидирует строку заголовка.
// timeColumn — имя назначенной колонки времени.
func New(r io.Reader, timeColumn string) (*Parser, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHeader, err.Error())
	}

	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	timeColIdx := -1

	for i, name := range header {
		name = strings.TrimSpace(name)
		// BOM в начале первой колонки (файлы из Excel)
		if i == 0 {
			name = strings.TrimPrefix(name, "\uFEFF")
		}
		if name == "" {
			return nil, fmt.Errorf("%w: пустое имя колонки (позиция %d)", ErrMalformedHeader, i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: дублирующееся имя колонки %q", ErrMalformedHeader, name)
		}
		seen[name] = true
		columns[i] = name
		if name == timeColumn {
			timeColIdx = i
		}
	}

	return &Parser{
		reader:     cr,
		columns:    columns,
		timeColIdx: timeColIdx,
	}, nil
}

// Columns возвращает имена колонок в порядке заголовка.
func (p *Parser) Columns() []string {
	return p.columns
}

// HasTimeColumn сообщает, содержит ли заголовок назначенную колонку времени.
func (p *Parser) HasTimeColumn() bool {
	return p.timeColIdx >= 0
}

// RowCount возвращает количество успешно распарсенных строк данных.
func (p *Parser) RowCount() int {
	return p.rowCount
}

// Skipped возвращает количество пропущенных строк данных.
func (p *Parser) Skipped() int {
	return p.skipped
}

// Next возвращает следующую строку данных или io.EOF в конце файла.
// Строки с некорректным числом полей пропускаются молча (подсчитываются
// в Skipped), Next продолжает чтение со следующей строки.
func (p *Parser) Next() (*Row, error) {
	for {
		record, err := p.reader.Read()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			// Несовпадение числа полей или синтаксическая ошибка строки —
			// политика skip-and-count, файл принимается частично
			p.skipped++
			continue
		}
		if len(record) != len(p.columns) {
			p.skipped++
			continue
		}

		values := make(map[string]string, len(p.columns))
		for i, col := range p.columns {
			values[col] = record[i]
		}

		row := &Row{Values: values}
		if p.timeColIdx >= 0 {
			row.Timestamp = ParseTimestamp(record[p.timeColIdx])
		}

		p.rowCount++
		return row, nil
	}
}

// ParseTimestamp разбирает значение колонки времени.
// Сначала целое число как epoch-микросекунды (формат pandas unit="us"),
// затем текстовые форматы. Возвращает nil, если значение не распарсилось.
func ParseTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	// Epoch-микросекунды
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		t := time.UnixMicro(n).UTC()
		return &t
	}

	// Текстовые форматы
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}

	return nil
}
