// Package errors provides the structured error taxonomy used by the schema
// reconciliation engine and the statement compilers. Every error carries a
// category and a code so callers can branch with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies errors by the component that raised them.
type Category string

const (
	CategoryModel     Category = "MODEL"
	CategoryValidator Category = "VALIDATOR"
	CategoryQuery     Category = "QUERY"
	CategoryUpdate    Category = "UPDATE"
	CategoryMigration Category = "MIGRATION"
	CategoryDB        Category = "DB"
)

// Model codes
const (
	CodeInvalidTableName = "INVALID_TABLE_NAME"
	CodeInvalidSchema    = "INVALID_SCHEMA"
)

// Validator codes
const (
	CodeInvalidValidatorRule = "INVALID_VALIDATOR_RULE"
	CodeInvalidValue         = "INVALID_VALUE"
)

// Query codes
const (
	CodeInvalidOperator      = "INVALID_OPERATOR"
	CodeInvalidInOperand     = "INVALID_IN_OPERAND"
	CodeInvalidTokenOperand  = "INVALID_TOKEN_OPERAND"
	CodeInvalidTokenOperator = "INVALID_TOKEN_OPERATOR"
	CodeInvalidContains      = "INVALID_CONTAINS"
	CodeInvalidContainsKey   = "INVALID_CONTAINS_KEY"
	CodeInvalidOrder         = "INVALID_ORDER"
	CodeInvalidLimit         = "INVALID_LIMIT"
	CodeInvalidGroup         = "INVALID_GROUP"
	CodeInvalidExpr          = "INVALID_EXPR"
	CodeInvalidSolrQuery     = "INVALID_SOLR_QUERY"
	CodeInvalidSelect        = "INVALID_SELECT"
)

// Update codes
const (
	CodeUnsetKey            = "UNSET_KEY"
	CodeUnsetRequired       = "UNSET_REQUIRED"
	CodeInvalidDefaultValue = "INVALID_DEFAULT_VALUE"
	CodeInvalidPrepend      = "INVALID_PREPEND"
	CodeInvalidReplace      = "INVALID_REPLACE"
)

// Migration codes. The DDL codes tag the phase an asynchronous failure
// happened in.
const (
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	CodeSchemaQuery    = "DB_SCHEMA_QUERY"
	CodeCreate         = "DB_CREATE"
	CodeAlter          = "DB_ALTER"
	CodeDrop           = "DB_DROP"
	CodeIndexCreate    = "DB_INDEX_CREATE"
	CodeIndexDrop      = "DB_INDEX_DROP"
	CodeMatViewCreate  = "MATVIEW_CREATE"
	CodeMatViewDrop    = "MATVIEW_DROP"
)

// DB codes
const (
	CodeDBError = "DB_ERROR"
)

// Error is the structured error type returned by every package of the module.
type Error struct {
	Category Category
	Code     string
	Message  string
	Cause    error
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(category Category, code, format string, args ...any) *Error {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new Error wrapping cause.
func Wrap(category Category, code, message string, cause error) *Error {
	return &Error{Category: category, Code: code, Message: message, Cause: cause}
}

// Sentinels usable as errors.Is targets.
var (
	ErrInvalidTableName     = New(CategoryModel, CodeInvalidTableName, "")
	ErrInvalidSchema        = New(CategoryModel, CodeInvalidSchema, "")
	ErrInvalidValidatorRule = New(CategoryValidator, CodeInvalidValidatorRule, "")
	ErrInvalidValue         = New(CategoryValidator, CodeInvalidValue, "")
	ErrUnsetKey             = New(CategoryUpdate, CodeUnsetKey, "")
	ErrUnsetRequired        = New(CategoryUpdate, CodeUnsetRequired, "")
	ErrSchemaMismatch       = New(CategoryMigration, CodeSchemaMismatch, "")
	ErrDB                   = New(CategoryDB, CodeDBError, "")
)

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetCategory extracts the error category from an error chain.
func GetCategory(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// IsQueryError reports whether err belongs to the InvalidQuery family.
func IsQueryError(err error) bool {
	return GetCategory(err) == CategoryQuery
}

// IsSchemaMismatch reports whether err is a SchemaMismatch.
func IsSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}

// Convenience constructors.

func InvalidSchema(format string, args ...any) *Error {
	return Newf(CategoryModel, CodeInvalidSchema, format, args...)
}

func InvalidQuery(code, format string, args ...any) *Error {
	return Newf(CategoryQuery, code, format, args...)
}

func InvalidUpdate(code, format string, args ...any) *Error {
	return Newf(CategoryUpdate, code, format, args...)
}

func SchemaMismatch(table, reason string) *Error {
	return Newf(CategoryMigration, CodeSchemaMismatch,
		"given schema does not match existing db table %q: %s", table, reason)
}

// Phase wraps a DDL failure with the phase it happened in.
func Phase(code, table string, cause error) *Error {
	return Wrap(CategoryMigration, code, fmt.Sprintf("table %q", table), cause)
}

func DBError(message string, cause error) *Error {
	return Wrap(CategoryDB, CodeDBError, message, cause)
}
