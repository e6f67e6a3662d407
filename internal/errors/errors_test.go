package errors

import (
	"fmt"
	"net/http"
	"testing"

	"abstats/domain/core"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCode(t *testing.T) {
	err := Wrap(ConfigInvalid("bad port"), "load failed")
	assert.Equal(t, CodeConfigInvalid, GetCode(err))
	assert.Equal(t, "load failed: bad port", err.Error())

	plain := Wrap(fmt.Errorf("boom"), "ctx")
	assert.Equal(t, CodeInternalError, GetCode(plain))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", core.NewNotFoundError("experiment", "x"), http.StatusNotFound},
		{"validation", core.NewValidationError("name", "empty"), http.StatusUnprocessableEntity},
		{"allocation", core.NewAllocationError("sum 90"), http.StatusUnprocessableEntity},
		{"locked", core.ErrVariantLocked, http.StatusUnprocessableEntity},
		{"not running", fmt.Errorf("assign: %w", core.ErrExperimentNotRunning), http.StatusConflict},
		{"halted", core.ErrSequentialHalted, http.StatusConflict},
		{"insufficient", core.ErrInsufficientData, http.StatusAccepted},
		{"computation", core.NewComputationError("sample size", "too large"), http.StatusUnprocessableEntity},
		{"database", DatabaseErrorf(fmt.Errorf("conn refused"), "query"), http.StatusServiceUnavailable},
		{"bad input", InvalidInput("bad json"), http.StatusBadRequest},
		{"missing route", NotFound("route GET /x"), http.StatusNotFound},
		{"internal", InternalError("panic"), http.StatusInternalServerError},
		{"redis down", ExternalServiceError("redis", fmt.Errorf("dial")), http.StatusServiceUnavailable},
		{"wrapped domain", Wrap(core.ErrExperimentNotFound, "load"), http.StatusNotFound},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestGetCodeFromSentinels(t *testing.T) {
	assert.Equal(t, CodeConflict, GetCode(core.ErrSequentialHalted))
	assert.Equal(t, CodeComputation, GetCode(core.NewComputationError("z", "nan")))
	assert.Equal(t, "UNKNOWN", GetCode(fmt.Errorf("other")))
}

func TestWrapKeepsCodeThroughPlainWrapping(t *testing.T) {
	inner := fmt.Errorf("query: %w", DatabaseErrorf(fmt.Errorf("timeout"), "load experiment"))
	err := Wrapf(inner, "request %d", 7)
	assert.Equal(t, CodeDatabaseError, GetCode(err))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(err))
}
