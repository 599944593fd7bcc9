package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	applogger "FinAlloc/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverWritesErrorEnvelope(t *testing.T) {
	e := echo.New()
	e.Use(RequestID(), Recover(applogger.Nop()))
	e.GET("/boom", func(echo.Context) error { panic("optimizer exploded") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var out struct {
		Data []struct {
			Code string `json:"code"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Data, 1)
	assert.Equal(t, "ERR_INTERNAL", out.Data[0].Code)
	assert.NotContains(t, rec.Body.String(), "optimizer exploded")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRequestIDIsEchoed(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
}
