// Пакет aggregate — движок временнóй агрегации: однопроходное
// построение разреженной матрицы корзина × категория по строкам файла.
//
// Память движка — O(различных категорий × различных корзин), не O(строк):
// строки подаются по одной через Add, материализуется только матрица
// счётчиков. Кардинальность категорий ограничена cap: значения сверх
// лимита сворачиваются в зарезервированную категорию "other".
//
// Усечение меток времени выполняется в одной фиксированной зоне на весь
// запрос (никогда не смешивается локальное и UTC-усечение внутри одного
// результата).
package aggregate

import (
	"time"

	"github.com/hyakkun/data-dashboard/internal/domain/model"
)

// OtherCategory — зарезервированная категория для значений,
// свёрнутых по достижении лимита кардинальности.
const OtherCategory = "other"

// Accumulator — однопроходный аккумулятор матрицы корзина × категория.
type Accumulator struct {
	unit model.TimeUnit
	loc  *time.Location
	cap  int

	// categories — различные значения в порядке первого появления
	categories []string
	catSeen    map[string]bool
	otherUsed  bool

	// buckets — счётчики: unix-микросекунды начала корзины → категория → count
	buckets map[int64]map[string]int

	// границы наблюдённых корзин
	minBucket time.Time
	maxBucket time.Time

	matched int
	skipped int
}

// New создаёт аккумулятор для указанной гранулярности, зоны усечения
// и лимита категорий.
func New(unit model.TimeUnit, loc *time.Location, categoryCap int) *Accumulator {
	return &Accumulator{
		unit:    unit,
		loc:     loc,
		cap:     categoryCap,
		catSeen: make(map[string]bool),
		buckets: make(map[int64]map[string]int),
	}
}

// Add учитывает одну строку с валидной меткой времени.
// category — сырое значение колонки группировки; пустая строка —
// полноправная категория, не ошибка.
func (a *Accumulator) Add(ts time.Time, category string) {
	bucket := Floor(ts, a.unit, a.loc)

	// Свёртка по лимиту кардинальности
	if !a.catSeen[category] {
		if len(a.categories) < a.cap {
			a.catSeen[category] = true
			a.categories = append(a.categories, category)
		} else {
			a.otherUsed = true
			category = OtherCategory
		}
	}

	key := bucket.UnixMicro()
	counts, ok := a.buckets[key]
	if !ok {
		counts = make(map[string]int)
		a.buckets[key] = counts
	}
	counts[category]++
	a.matched++

	if a.minBucket.IsZero() || bucket.Before(a.minBucket) {
		a.minBucket = bucket
	}
	if a.maxBucket.IsZero() || bucket.After(a.maxBucket) {
		a.maxBucket = bucket
	}
}

// AddSkipped учитывает строку, исключённую из агрегации
// (нераспарсенная метка времени).
func (a *Accumulator) AddSkipped() {
	a.skipped++
}

// Result материализует результат: корзины от floor(min) до floor(max)
// включительно, без пропусков; категории в порядке первого появления,
// свёрнутая категория "other" — последней.
func (a *Accumulator) Result() *model.SummaryResult {
	result := &model.SummaryResult{
		Categories:  append([]string(nil), a.categories...),
		Rows:        []model.SummaryRow{},
		MatchedRows: a.matched,
		SkippedRows: a.skipped,
	}
	// Свёрнутая категория добавляется в конец; если значение "other"
	// встретилось и как реальная категория в пределах лимита, счётчики
	// объединяются под одним именем (категория зарезервирована)
	if a.otherUsed && !a.catSeen[OtherCategory] {
		result.Categories = append(result.Categories, OtherCategory)
	}

	if a.matched == 0 {
		return result
	}

	for cur := a.minBucket; !cur.After(a.maxBucket); cur = next(cur, a.unit) {
		counts := a.buckets[cur.UnixMicro()]
		if counts == nil {
			// Пустая корзина внутри диапазона: включается с нулевыми
			// счётчиками, чтобы ряд был непрерывным для графиков
			counts = map[string]int{}
		}
		result.Rows = append(result.Rows, model.SummaryRow{
			TimeBucket: Label(cur, a.unit),
			Counts:     counts,
		})
	}

	return result
}

// Floor усекает метку времени вниз до границы корзины по настенным часам
// зоны loc. День — полночь локальной зоны; час — начало часа; минутные
// единицы — минуты, кратные шагу.
//
// Результат — настенные компоненты, перевыраженные в UTC: ключи корзин и
// шаг итерации живут в линейной шкале без переходов летнего времени, и
// ключ, под которым корзина сохранена в Add, всегда совпадает с ключом,
// который Result вычисляет при обходе диапазона. Повторившийся при
// обратном переводе часов час сливается в одну настенную корзину.
func Floor(ts time.Time, unit model.TimeUnit, loc *time.Location) time.Time {
	t := ts.In(loc)
	year, month, day := t.Date()

	switch unit {
	case model.UnitDay:
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	case model.UnitHour:
		return time.Date(year, month, day, t.Hour(), 0, 0, 0, time.UTC)
	case model.Unit10Min:
		return time.Date(year, month, day, t.Hour(), t.Minute()/10*10, 0, 0, time.UTC)
	case model.Unit5Min:
		return time.Date(year, month, day, t.Hour(), t.Minute()/5*5, 0, 0, time.UTC)
	default: // model.Unit1Min
		return time.Date(year, month, day, t.Hour(), t.Minute(), 0, 0, time.UTC)
	}
}

// next возвращает начало следующей корзины. Корзины выражены в линейной
// UTC-шкале (см. Floor), поэтому день шагается календарно, а субдневные
// единицы — фиксированным шагом, без поправок на локальную зону.
func next(bucket time.Time, unit model.TimeUnit) time.Time {
	if unit == model.UnitDay {
		return bucket.AddDate(0, 0, 1)
	}
	return bucket.Add(unit.Step())
}

// Label форматирует метку корзины для API-ответа.
func Label(bucket time.Time, unit model.TimeUnit) string {
	switch unit {
	case model.UnitDay:
		return bucket.Format("2006-01-02")
	case model.UnitHour:
		return bucket.Format("2006-01-02 15:00")
	default:
		return bucket.Format("2006-01-02 15:04")
	}
}
