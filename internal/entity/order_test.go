package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFinalize(t *testing.T) {
	order := &Order{Status: StatusPending}
	require.NoError(t, order.Finalize())
	require.Equal(t, StatusFinalized, order.Status)

	require.ErrorIs(t, order.Finalize(), ErrNotPending)
	require.Equal(t, StatusFinalized, order.Status)
}

func TestCancel(t *testing.T) {
	order := &Order{Status: StatusPending}
	require.NoError(t, order.Cancel())
	require.Equal(t, StatusCanceled, order.Status)

	require.ErrorIs(t, order.Cancel(), ErrNotPending)
	require.Equal(t, StatusCanceled, order.Status)
}

func TestTransitionsAreOneWay(t *testing.T) {
	finalized := &Order{Status: StatusFinalized}
	require.ErrorIs(t, finalized.Cancel(), ErrNotPending)
	require.Equal(t, StatusFinalized, finalized.Status)

	canceled := &Order{Status: StatusCanceled}
	require.ErrorIs(t, canceled.Finalize(), ErrNotPending)
	require.Equal(t, StatusCanceled, canceled.Status)
}
