// Пакет blobstore — хранение оригинальных загруженных файлов на диске.
// Байты сохраняются дословно (verbatim) и никогда не пересериализуются
// из распарсенного представления: скачивание обязано возвращать
// содержимое, байт-в-байт идентичное загруженному.
//
// Streaming-запись с подсчётом SHA-256 на лету.
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// BlobStore — управление оригинальными файлами на диске.
// Файл адресуется по file_id, оригинальное имя в адресации не участвует.
type BlobStore struct {
	// dataDir — корневая директория хранения файлов (DD_DATA_DIR)
	dataDir string
}

// SaveResult — результат сохранения файла на диск.
type SaveResult struct {
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого файла
	Checksum string
}

// New создаёт новый BlobStore. Проверяет и создаёт директорию,
// если она не существует.
func New(dataDir string) (*BlobStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &BlobStore{dataDir: dataDir}, nil
}

// Save записывает данные из reader на диск под именем fileID
// с подсчётом SHA-256 на лету. При ошибке temp файл удаляется.
func (bs *BlobStore) Save(fileID string, reader io.Reader) (*SaveResult, error) {
	fullPath := filepath.Join(bs.dataDir, fileID)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (bs *BlobStore) Open(fileID string) (*os.File, error) {
	fullPath := filepath.Join(bs.dataDir, fileID)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s: %w", fileID, err)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", fileID, err)
	}

	return f, nil
}

// Delete удаляет файл с диска. Возвращает nil, если файл уже не существует
// (повторное удаление безопасно).
func (bs *BlobStore) Delete(fileID string) error {
	fullPath := filepath.Join(bs.dataDir, fileID)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", fileID, err)
	}
	return nil
}

// Exists проверяет существование файла на диске.
func (bs *BlobStore) Exists(fileID string) bool {
	_, err := os.Stat(filepath.Join(bs.dataDir, fileID))
	return err == nil
}

// DataDir возвращает путь к директории данных.
func (bs *BlobStore) DataDir() string {
	return bs.dataDir
}
