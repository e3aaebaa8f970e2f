package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanningErrorIs(t *testing.T) {
	err := fmt.Errorf("plan routes: %w", NewPlanningError(CodeNoVehicles, "no vehicles available", nil))
	require.True(t, errors.Is(err, ErrNoVehicles))
	require.False(t, errors.Is(err, ErrNoBookings))

	var pe *PlanningError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, CodeNoVehicles, pe.Code)
}

func TestProviderCode(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &ProviderError{Code: ProviderZeroResults, StatusCode: 404})
	require.Equal(t, ProviderZeroResults, ProviderCode(err))
	require.Empty(t, ProviderCode(errors.New("plain")))
}

func TestProviderErrorMessage(t *testing.T) {
	withStatus := &ProviderError{Code: ProviderRequestDenied, StatusCode: 403, Message: "bad key"}
	require.Equal(t, "REQUEST_DENIED (status 403): bad key", withStatus.Error())

	cause := errors.New("dial tcp: refused")
	network := &ProviderError{Code: ProviderNetworkError, Message: "request failed", Err: cause}
	require.Equal(t, "NETWORK_ERROR: request failed", network.Error())
	require.ErrorIs(t, network, cause)
}
