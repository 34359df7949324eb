// Пакет errors — конструкторы стандартных ошибок API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib осознанный, импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
// Код позволяет вызывающей стороне отличить "исправь входные данные"
// (VALIDATION_ERROR и родственные) от "повтори позже" (STORAGE_ERROR,
// TIMEOUT) и от "файла больше нет" (NOT_FOUND).
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeMalformedHeader     = "MALFORMED_HEADER"
	CodeNoTimestampColumn   = "NO_TIMESTAMP_COLUMN"
	CodeUnsupportedTimeUnit = "UNSUPPORTED_TIME_UNIT"
	CodeTimeout             = "TIMEOUT"
	CodeStorageError        = "STORAGE_ERROR"
	CodeInternalError       = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// MalformedHeader — 400 некорректный заголовок CSV.
func MalformedHeader(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeMalformedHeader, message)
}

// NoTimestampColumn — 400 файл без назначенной колонки времени,
// агрегация невозможна (download/delete/list не затронуты).
func NoTimestampColumn(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeNoTimestampColumn, message)
}

// UnsupportedTimeUnit — 400 значение time_unit вне допустимого набора.
func UnsupportedTimeUnit(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeUnsupportedTimeUnit, message)
}

// Timeout — 504 вычисление не уложилось в отведённый таймаут.
func Timeout(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGatewayTimeout, CodeTimeout, message)
}

// StorageError — 503 хранилище недоступно, безопасно повторить позже.
func StorageError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, CodeStorageError, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
