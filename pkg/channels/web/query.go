package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"spendbot/pkg/api"
)

// apiError is an error rendered with the HTTP error envelope.
type apiError struct {
	Status  int
	Message string
	Errors  []string
}

func (e *apiError) Error() string {
	return e.Message
}

func badRequest(message string, errs []string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Message: message, Errors: errs}
}

func missingHeader(header string) *apiError {
	return &apiError{Status: http.StatusInternalServerError, Message: "Не передан заголовок " + strings.ToLower(header)}
}

type errorEnvelope struct {
	Error  string   `json:"error"`
	Status int      `json:"status"`
	Errors []string `json:"errors"`
}

// writeError renders err with the envelope. Errors that are neither an
// apiError nor a GenerationError become a generic 500.
func writeError(w http.ResponseWriter, err error) {
	var ae *apiError
	var ge *api.GenerationError
	switch {
	case errors.As(err, &ae):
	case errors.As(err, &ge):
		ae = &apiError{Status: http.StatusBadGateway, Message: "Модель не смогла сформировать ответ"}
	default:
		ae = &apiError{Status: http.StatusInternalServerError, Message: "Внутренняя ошибка сервера"}
	}

	errs := ae.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, ae.Status, errorEnvelope{Error: ae.Message, Status: ae.Status, Errors: errs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

type queryResponse struct {
	Answer string `json:"answer"`
}

// decodeQuery validates a POST /query body. Every problem is reported, not
// only the first one.
func decodeQuery(body io.Reader) (string, error) {
	var fields map[string]any
	if err := json.NewDecoder(body).Decode(&fields); err != nil {
		return "", badRequest("Ошибки валидации", []string{"body must be a JSON object"})
	}

	var errs []string
	unknown := make([]string, 0, len(fields))
	for k := range fields {
		if k != "query" {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)

	query, present := fields["query"]
	text, isString := query.(string)
	switch {
	case !present || query == nil:
		errs = append(errs, `"query" is required`)
	case !isString:
		errs = append(errs, `"query" must be a string`)
	case strings.TrimSpace(text) == "":
		errs = append(errs, `"query" is not allowed to be empty`)
	}
	for _, k := range unknown {
		errs = append(errs, fmt.Sprintf("%q is not allowed", k))
	}

	if len(errs) > 0 {
		return "", badRequest("Ошибки валидации", errs)
	}
	return text, nil
}

func (c *WebChannel) handleQuery(w http.ResponseWriter, r *http.Request) {
	session, ok := c.identity(r, false)
	if !ok {
		writeError(w, missingHeader(c.identityHeader))
		return
	}

	query, err := decodeQuery(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if c.config.QueryTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.config.QueryTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	answer, err := c.engine.Ask(ctx, session, query)
	if err != nil {
		slog.ErrorContext(ctx, "Query failed", "user", session.UserID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Answer: answer})
}
