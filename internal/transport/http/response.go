package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/log"
)

const (
	maxBodyBytes   = 1 << 20
	maxSketchBytes = 32 << 20

	serverErrorMessage = "Server Error. Please try again later"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError maps err onto its status. Internal failures are logged and
// replaced with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger log.Logger, err error) {
	status := domain.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error(err, "request failed", "method", r.Method, "path", r.URL.Path)
		msg = serverErrorMessage
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.Invalid("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, domain.Invalid("failed to read request body")
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r, maxBodyBytes)
	if err != nil {
		return err
	}
	return decodeBytes(body, v)
}

func decodeBytes(body []byte, v any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return domain.Invalid("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.Invalid("invalid JSON body: %v", err)
	}
	return nil
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.Invalid("%s must be a date", field)
}

func parseInt(field, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, domain.Invalid("%s must be a non-negative integer", field)
	}
	return n, nil
}

func parsePage(r *http.Request) (domain.Page, error) {
	q := r.URL.Query()
	offset, err := parseInt("offset", q.Get("offset"))
	if err != nil {
		return domain.Page{}, err
	}
	limit, err := parseInt("limit", q.Get("limit"))
	if err != nil {
		return domain.Page{}, err
	}
	return domain.Page{Offset: offset, Limit: limit}.Normalize(), nil
}
