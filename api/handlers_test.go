package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/billcore/router"
)

func TestRouterErrorToHTTPMapsEveryKind(t *testing.T) {
	cases := []struct {
		kind   router.Kind
		status int
	}{
		{router.KindBusinessRuleViolation, http.StatusUnprocessableEntity},
		{router.KindNotFound, http.StatusNotFound},
		{router.KindConcurrencyConflict, http.StatusConflict},
		{router.KindCancelled, 499},
		{router.KindTransientFailure, http.StatusServiceUnavailable},
		{router.KindInternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := routerErrorToHTTP(&router.Error{Kind: tc.kind, Reason: "some_reason", Message: "boom"})
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, tc.status, httpErr.Code, "kind %s", tc.kind)
	}
}

func TestRouterErrorToHTTPFallsBackForUnknownErrorType(t *testing.T) {
	err := routerErrorToHTTP(errors.New("not a router.Error"))
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Code)
}

func TestRouterErrorToHTTPCarriesBusinessRuleReason(t *testing.T) {
	err := routerErrorToHTTP(&router.Error{Kind: router.KindBusinessRuleViolation, Reason: "title_required", Message: "title must not be empty"})
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	body, ok := httpErr.Message.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "title_required", body["reason"])
}
