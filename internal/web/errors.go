package web

// errors.go maps export errors to HTTP responses.
//
// Every error is logged server-side with its full chain and the request id,
// and the client receives a stable support code with a short explanation:
//
//	EXP001 404  unknown or expired operation id
//	EXP002 503  segment store unavailable; the same page may be retried
//	EXP003 422  segments of one operation have different columns
//	EXP004 500  workbook or zip encoding failed; Complete may be retried
//	EXP005 409  operation already completed; Begin a new export
//	EXP006 400  page numbers start at 1
//	EXP007 429  too many exports completing at once
//	EXP008 504  the request ran out of time
//	EXP009 400  a query parameter could not be parsed
//	ERR000 500  anything else; see server logs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/segexport/internal/download"
	"github.com/JonMunkholm/segexport/internal/logging"
	"github.com/JonMunkholm/segexport/internal/segment"
	"github.com/JonMunkholm/segexport/internal/workbook"
)

// ErrInvalidQuery marks a malformed query parameter.
var ErrInvalidQuery = errors.New("invalid query parameter")

// UserMessage is the client-facing description of an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
	UserMessage
}

type errorRule struct {
	target error
	status int
	msg    UserMessage
}

// errorRules are checked in order with errors.Is; the first match wins.
var errorRules = []errorRule{
	{segment.ErrUnknownOperation, http.StatusNotFound, UserMessage{
		Message: "Export not found",
		Action:  "The export may have been cleaned up or expired. Start a new export",
		Code:    "EXP001",
	}},
	{segment.ErrStoreUnavailable, http.StatusServiceUnavailable, UserMessage{
		Message: "Export storage is temporarily unavailable",
		Action:  "Retry the same page in a few moments",
		Code:    "EXP002",
	}},
	{segment.ErrSchemaMismatch, http.StatusUnprocessableEntity, UserMessage{
		Message: "Export pages have inconsistent columns",
		Action:  "Start a new export; the source changed shape while paging",
		Code:    "EXP003",
	}},
	{workbook.ErrEncoding, http.StatusInternalServerError, UserMessage{
		Message: "The spreadsheet could not be generated",
		Action:  "Try completing the export again",
		Code:    "EXP004",
	}},
	{download.ErrOperationCompleted, http.StatusConflict, UserMessage{
		Message: "This export has already been completed",
		Action:  "Download it again with complete, or start a new export",
		Code:    "EXP005",
	}},
	{download.ErrInvalidPage, http.StatusBadRequest, UserMessage{
		Message: "Invalid page number",
		Action:  "Page numbers start at 1",
		Code:    "EXP006",
	}},
	{download.ErrTooManyCompletes, http.StatusTooManyRequests, UserMessage{
		Message: "The server is busy preparing other exports",
		Action:  "Please wait a moment and try again",
		Code:    "EXP007",
	}},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, UserMessage{
		Message: "The request timed out",
		Action:  "Try again; large exports may need a smaller page size",
		Code:    "EXP008",
	}},
	{ErrInvalidQuery, http.StatusBadRequest, UserMessage{
		Message: "Invalid request option",
		Action:  "Use zip=true or zip=false",
		Code:    "EXP009",
	}},
}

var fallbackMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError returns the client message and HTTP status for err.
func MapError(err error) (UserMessage, int) {
	for _, rule := range errorRules {
		if errors.Is(err, rule.target) {
			return rule.msg, rule.status
		}
	}
	return fallbackMessage, http.StatusInternalServerError
}

// respondError logs err and writes its mapped JSON response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg, status := MapError(err)

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	)

	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, ErrorResponse{Error: msg.Message, UserMessage: msg})
}

// writeJSON encodes v with the given status. Encoding errors are only
// logged since the header is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
