package httperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/husmancristian/TA_CONSOLE/pkg/backend"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestRespondWithError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()

	BadRequest(rec, logger, nil, "name is required")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decode(t, rec)
	assert.Equal(t, "Bad Request", resp.Error)
	assert.Equal(t, "name is required", resp.Message)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestFromBackend(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "not found",
			err:         fmt.Errorf("load: %w", &backend.APIError{StatusCode: 404, Status: "404 Not Found", Body: `{"detail":"Test run not found"}`}),
			wantStatus:  http.StatusNotFound,
			wantMessage: "Test run not found",
		},
		{
			name:        "validation error keeps status",
			err:         &backend.APIError{StatusCode: 422, Status: "422 Unprocessable Entity", Body: `{"detail":"goal is required"}`},
			wantStatus:  http.StatusUnprocessableEntity,
			wantMessage: "goal is required",
		},
		{
			name:       "server error becomes bad gateway",
			err:        &backend.APIError{StatusCode: 500, Status: "500 Internal Server Error"},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "transport error becomes bad gateway",
			err:        errors.New("dial tcp 127.0.0.1:8000: connection refused"),
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromBackend(rec, logger, tt.err, "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decode(t, rec)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, resp.Message)
			}
		})
	}
}
