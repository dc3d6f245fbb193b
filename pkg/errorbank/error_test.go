package errorbank

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{KindBadRequest, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindNotFound, http.StatusNotFound},
		{KindUnprocessableEntity, http.StatusUnprocessableEntity},
		{KindFailedDependency, http.StatusFailedDependency},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, New(tc.kind, "x").StatusCode(), string(tc.kind))
	}
}

func TestGRPCCode(t *testing.T) {
	require.Equal(t, codes.Unavailable, FailedDependency("down").GRPCCode())
	require.Equal(t, codes.NotFound, NotFound("gone").GRPCCode())
	require.Equal(t, codes.FailedPrecondition, Unprocessable("nope").GRPCCode())
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := errors.New("root cause")
	err := Internal("wrapped", WithCause(cause))

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "root cause")
}

func TestDetails(t *testing.T) {
	err := Unprocessable("insufficient stock",
		WithDetail("productId", "p1"),
		WithDetails(map[string]any{"currentStock": 3}),
	)

	require.Equal(t, "p1", err.Details()["productId"])
	require.Equal(t, 3, err.Details()["currentStock"])
}

func TestFrom(t *testing.T) {
	appErr := BadRequest("bad input")
	require.Same(t, appErr, From(appErr))

	wrapped := From(errors.New("plain"))
	require.Equal(t, KindInternal, wrapped.Kind())

	require.Nil(t, From(nil))
}

func TestEmptyMessageDefaultsToKind(t *testing.T) {
	require.Equal(t, string(KindNotFound), NotFound("").Message())
}
