package services

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	type depositRequest struct {
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Currency string `json:"currency" validate:"required,len=3"`
	}

	t.Run("valid struct", func(t *testing.T) {
		err := vh.ValidateStruct(&depositRequest{Amount: 50_000, Currency: "EUR"})
		assert.NoError(t, err)
	})

	t.Run("missing amount", func(t *testing.T) {
		err := vh.ValidateStruct(&depositRequest{Currency: "EUR"})
		assert.Error(t, err)
	})

	t.Run("negative amount", func(t *testing.T) {
		err := vh.ValidateStruct(&depositRequest{Amount: -100, Currency: "EUR"})
		assert.Error(t, err)
	})

	t.Run("wrong currency length", func(t *testing.T) {
		err := vh.ValidateStruct(&depositRequest{Amount: 100, Currency: "EURO"})
		assert.Error(t, err)
	})
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Amount int64 `json:"amount"`
	}

	t.Run("decodes a single object", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"amount": 100}`))
		w := httptest.NewRecorder()

		var p payload
		err := DecodeJSONBody(w, r, &p)
		assert.NoError(t, err)
		assert.Equal(t, int64(100), p.Amount)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"amount": 100, "admin": true}`))
		w := httptest.NewRecorder()

		var p payload
		err := DecodeJSONBody(w, r, &p)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects trailing content", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"amount": 100}{"amount": 200}`))
		w := httptest.NewRecorder()

		var p payload
		err := DecodeJSONBody(w, r, &p)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/", strings.NewReader(`{"amount":`))
		w := httptest.NewRecorder()

		var p payload
		err := DecodeJSONBody(w, r, &p)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestSendServiceError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation maps to 400", ErrValidation, 400},
		{"insufficient funds maps to 400", ErrInsufficientFunds, 400},
		{"authentication maps to 401", ErrAuthentication, 401},
		{"not found maps to 404", ErrNotFound, 404},
		{"invalid state maps to 409", ErrInvalidState, 409},
		{"persistence maps to 500", ErrPersistence, 500},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SendServiceError(w, tc.err)

			assert.Equal(t, tc.code, w.Code)

			var resp ErrorResponse
			assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}
