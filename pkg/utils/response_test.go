package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validationBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func TestRespondValidation(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondValidation(resp, map[string]string{"customerId": "unknown customer"})

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	var body validationBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "validation failed", body.Error)
	assert.Equal(t, map[string]string{"customerId": "unknown customer"}, body.Fields)
}

func TestRespondDecodeError(t *testing.T) {
	var dst struct {
		Email string `json:"email" validate:"required,email"`
		Name  string `json:"name" validate:"required"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"not-an-email"}`))
	err := DecodeJSON(req, &dst)
	require.Error(t, err)

	resp := httptest.NewRecorder()
	RespondDecodeError(resp, err)
	var body validationBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, map[string]string{"email": "email", "name": "required"}, body.Fields)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	resp = httptest.NewRecorder()
	RespondDecodeError(resp, DecodeJSON(req, &dst))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.JSONEq(t, `{"error":"invalid request body"}`, resp.Body.String())
}
