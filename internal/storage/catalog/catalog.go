// Пакет catalog — слой доступа к данным SQLite: метаданные файлов
// и распарсенные строки. Все запросы — чистый SQL, без ORM.
//
// Атомарность: PutFile вставляет строки и запись метаданных в одной
// транзакции — либо становится видно всё, либо ничего. DeleteFile
// удаляет метаданные и строки в одной транзакции (FK ON DELETE CASCADE).
//
// Изоляция: база открывается в режиме WAL, поэтому потоковое
// сканирование строк (ScanRows) держит read-снапшот — конкурентное
// удаление файла происходит строго до или строго после сканирования,
// никогда между его строками.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyakkun/data-dashboard/internal/domain/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ошибки слоя хранения.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
)

// RowSource — источник строк для PutFile. Next возвращает io.EOF
// после последней строки.
type RowSource interface {
	Next() (*model.Row, error)
}

// Catalog — хранилище метаданных файлов и распарсенных строк.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open открывает базу SQLite с production-прагмами:
// WAL, foreign_keys, busy_timeout, synchronous=NORMAL.
func Open(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=10000&_synchronous=NORMAL",
		dbPath,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы %s: %w", dbPath, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к базе %s: %w", dbPath, err)
	}

	return db, nil
}

// Migrate применяет SQL-миграции из embedded FS к базе данных.
// Использует golang-migrate с драйвером sqlite3.
func Migrate(db *sql.DB, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("ошибка создания драйвера миграций: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// New создаёт Catalog поверх открытой и мигрированной базы.
func New(db *sql.DB, logger *slog.Logger) *Catalog {
	return &Catalog{
		db:     db,
		logger: logger.With(slog.String("component", "catalog")),
	}
}

// PutFile атомарно сохраняет запись метаданных rec и строки из source.
// Запись files вставляется до строк: file_rows ссылается на files по
// внешнему ключу. Source дренируется полностью, после чего счётчики
// rec.RowCount и rec.SkippedRows фиксируются в files отдельным UPDATE,
// поэтому вызывающий код может дозаполнять их по мере выдачи строк.
// При любой ошибке транзакция откатывается целиком.
func (c *Catalog) PutFile(ctx context.Context, rec *model.FileRecord, source RowSource) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op после Commit

	columnsJSON, err := json.Marshal(rec.Columns)
	if err != nil {
		return fmt.Errorf("ошибка сериализации колонок: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (file_id, filename, filesize, row_count, skipped_rows,
		                   columns, has_time_column, checksum, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FileID, rec.Filename, rec.Filesize, rec.RowCount, rec.SkippedRows,
		string(columnsJSON), boolToInt(rec.HasTimeColumn), rec.Checksum,
		rec.UploadedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ошибка вставки метаданных файла: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO file_rows (file_id, seq, ts_us, values_json) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("ошибка подготовки вставки строк: %w", err)
	}
	defer stmt.Close()

	for {
		row, err := source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("ошибка чтения строки из источника: %w", err)
		}

		valuesJSON, err := json.Marshal(row.Values)
		if err != nil {
			return fmt.Errorf("ошибка сериализации строки %d: %w", row.Seq, err)
		}

		var tsUS sql.NullInt64
		if row.Timestamp != nil {
			tsUS = sql.NullInt64{Int64: row.Timestamp.UnixMicro(), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx, rec.FileID, row.Seq, tsUS, string(valuesJSON)); err != nil {
			return fmt.Errorf("ошибка вставки строки %d: %w", row.Seq, err)
		}
	}

	// Счётчики известны только после полного дренирования source.
	_, err = tx.ExecContext(ctx,
		`UPDATE files SET row_count = ?, skipped_rows = ? WHERE file_id = ?`,
		rec.RowCount, rec.SkippedRows, rec.FileID,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления счётчиков файла: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return nil
}

// fileColumns — список колонок files для SELECT-запросов.
const fileColumns = `file_id, filename, filesize, row_count, skipped_rows,
	columns, has_time_column, checksum, uploaded_at`

// GetFile возвращает метаданные файла по file_id или ErrNotFound.
func (c *Catalog) GetFile(ctx context.Context, fileID string) (*model.FileRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE file_id = ?`, fileID,
	)

	rec, err := scanFileRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return rec, nil
}

// ListFiles возвращает пагинированный список метаданных, отсортированный
// по дате загрузки (новые первые), и общее количество файлов. Страница и
// счётчик читаются в одной транзакции, чтобы total соответствовал тому же
// снимку каталога, что и выданная страница.
func (c *Catalog) ListFiles(ctx context.Context, limit, offset int) ([]*model.FileRecord, int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op после Commit

	rows, err := tx.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 ORDER BY uploaded_at DESC, file_id
		 LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	var result []*model.FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	rows.Close()

	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта файлов: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return result, total, nil
}

// DeleteFile удаляет метаданные файла и все его строки в одной транзакции.
// Возвращает ErrNotFound, если файла нет (повторное удаление — 404,
// задокументированное поведение).
func (c *Catalog) DeleteFile(ctx context.Context, fileID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Строки удаляет FK ON DELETE CASCADE, но удаляем явно:
	// каскад зависит от прагмы соединения, а здесь нужна гарантия
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_rows WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("ошибка удаления строк файла: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("ошибка удаления метаданных файла: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка подсчёта удалённых записей: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return nil
}

// ScanRows потоково проходит строки файла в порядке вставки.
// Для каждой строки вызывает fn с меткой времени (nil если не распарсилась)
// и значениями колонок. Ошибка fn прерывает сканирование.
// Память — O(1) по числу строк: строки декодируются по одной.
func (c *Catalog) ScanRows(ctx context.Context, fileID string, fn func(tsUS *int64, values map[string]string) error) error {
	rows, err := c.db.QueryContext(ctx,
		`SELECT ts_us, values_json FROM file_rows WHERE file_id = ? ORDER BY seq`, fileID,
	)
	if err != nil {
		return fmt.Errorf("ошибка сканирования строк файла: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		// Уважаем отмену контекста между строками (таймаут агрегации)
		if err := ctx.Err(); err != nil {
			return err
		}

		var tsUS sql.NullInt64
		var valuesJSON string
		if err := rows.Scan(&tsUS, &valuesJSON); err != nil {
			return fmt.Errorf("ошибка сканирования строки: %w", err)
		}

		var values map[string]string
		if err := json.Unmarshal([]byte(valuesJSON), &values); err != nil {
			return fmt.Errorf("ошибка декодирования строки: %w", err)
		}

		var ts *int64
		if tsUS.Valid {
			ts = &tsUS.Int64
		}

		if err := fn(ts, values); err != nil {
			return err
		}
	}

	return rows.Err()
}

// Ping проверяет доступность базы (для health/ready).
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// scanner — общий интерфейс *sql.Row и *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanFileRecord сканирует одну запись files в модель.
func scanFileRecord(s scanner) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	var columnsJSON, uploadedAt string
	var hasTimeColumn int

	if err := s.Scan(
		&rec.FileID, &rec.Filename, &rec.Filesize, &rec.RowCount, &rec.SkippedRows,
		&columnsJSON, &hasTimeColumn, &rec.Checksum, &uploadedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(columnsJSON), &rec.Columns); err != nil {
		return nil, fmt.Errorf("ошибка декодирования колонок: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, uploadedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора uploaded_at: %w", err)
	}
	rec.UploadedAt = t
	rec.HasTimeColumn = hasTimeColumn != 0

	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
