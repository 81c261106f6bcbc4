package apperror

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestContext(method string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error object: %v", body)
	}
	return errObj
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := HTTPErrorHandler(log)

	c, rec := newTestContext(http.MethodGet)
	handler(ErrNotFound.WithMessage("no such session"), c)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	errObj := decodeErrorBody(t, rec)
	if errObj["code"] != "not_found" {
		t.Errorf("code = %v, want %q", errObj["code"], "not_found")
	}
	if errObj["message"] != "no such session" {
		t.Errorf("message = %v, want %q", errObj["message"], "no such session")
	}
}

func TestHTTPErrorHandler_EchoHTTPError(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := HTTPErrorHandler(log)

	c, rec := newTestContext(http.MethodGet)
	handler(echo.NewHTTPError(http.StatusNotFound, "route missing"), c)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	errObj := decodeErrorBody(t, rec)
	if errObj["code"] != "not_found" {
		t.Errorf("code = %v, want %q", errObj["code"], "not_found")
	}
}

func TestHTTPErrorHandler_UnknownError(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := HTTPErrorHandler(log)

	c, rec := newTestContext(http.MethodGet)
	handler(errors.New("something odd"), c)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	errObj := decodeErrorBody(t, rec)
	if errObj["code"] != "internal_error" {
		t.Errorf("code = %v, want %q", errObj["code"], "internal_error")
	}
}

func TestHTTPErrorHandler_HeadRequest(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	handler := HTTPErrorHandler(log)

	c, rec := newTestContext(http.MethodHead)
	handler(ErrBadRequest, c)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD response must have no body, got %q", rec.Body.String())
	}
}
