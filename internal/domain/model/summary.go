// summary.go — модели запроса и результата временнóй агрегации.
package model

import (
	"fmt"
	"time"
)

// TimeUnit — гранулярность временных корзин агрегации.
type TimeUnit string

const (
	// UnitDay — корзина в один день (полночь локальной зоны)
	UnitDay TimeUnit = "day"
	// UnitHour — корзина в один час
	UnitHour TimeUnit = "hour"
	// Unit10Min — корзина в 10 минут
	Unit10Min TimeUnit = "10min"
	// Unit5Min — корзина в 5 минут
	Unit5Min TimeUnit = "5min"
	// Unit1Min — корзина в 1 минуту
	Unit1Min TimeUnit = "1min"
)

// ParseTimeUnit валидирует строковое значение time_unit.
// Любое значение вне фиксированного набора — ошибка валидации.
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch TimeUnit(s) {
	case UnitDay, UnitHour, Unit10Min, Unit5Min, Unit1Min:
		return TimeUnit(s), nil
	default:
		return "", fmt.Errorf("недопустимый time_unit %q, допустимые: day, hour, 10min, 5min, 1min", s)
	}
}

// Step возвращает шаг корзины. Для UnitDay шаг задаётся
// календарным днём (AddDate), поэтому возвращается 24h только
// как справочное значение — итерацию по дням выполняет движок.
func (u TimeUnit) Step() time.Duration {
	switch u {
	case UnitHour:
		return time.Hour
	case Unit10Min:
		return 10 * time.Minute
	case Unit5Min:
		return 5 * time.Minute
	case Unit1Min:
		return time.Minute
	default:
		return 24 * time.Hour
	}
}

// SummaryRequest — параметры запроса агрегации.
type SummaryRequest struct {
	// FileID — идентификатор файла
	FileID string
	// GroupBy — колонка группировки (из FileRecord.Columns)
	GroupBy string
	// Unit — гранулярность временных корзин
	Unit TimeUnit
}

// SummaryRow — одна временная корзина результата.
// Counts содержит счётчик для каждой категории из Categories;
// отсутствующая категория означает ноль.
type SummaryRow struct {
	// TimeBucket — метка корзины (локальная зона агрегации)
	TimeBucket string `json:"time_bucket"`
	// Counts — отображение категория → количество строк
	Counts map[string]int `json:"counts"`
}

// SummaryResult — развёрнутая матрица корзина × категория.
// Categories упорядочены по первому появлению при сканировании,
// Rows — хронологически, без пропусков между floor(min) и floor(max).
type SummaryResult struct {
	// Categories — различные значения колонки группировки
	// в порядке первого появления
	Categories []string `json:"categories"`

	// Rows — временные корзины с счётчиками, по возрастанию времени
	Rows []SummaryRow `json:"summary"`

	// MatchedRows — число строк с валидной меткой времени,
	// вошедших в матрицу
	MatchedRows int `json:"matched_rows"`

	// SkippedRows — число строк, исключённых из агрегации
	// из-за нераспарсенной метки времени
	SkippedRows int `json:"skipped_rows"`
}
