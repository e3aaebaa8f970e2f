package repositories

import (
	"context"
	"errors"
	"field-route-planner/internal/domain"
	"field-route-planner/internal/ports"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryPlanningStoreInTxIsAllOrNothing(t *testing.T) {
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	store := NewMemoryPlanningStore()
	store.AddBooking(&domain.Booking{ID: "b1", ScheduledDate: day, Status: domain.BookingStatusConfirmed})
	store.AddBooking(&domain.Booking{ID: "b2", ScheduledDate: day, Status: domain.BookingStatusConfirmed})

	boom := errors.New("disk full")
	store.FailWhen(func(op, id string) error {
		if op == OpUpdateBookingAssign && id == "b2" {
			return boom
		}
		return nil
	})

	ctx := context.Background()
	err := store.InTx(ctx, func(w ports.RouteWriter) error {
		id, err := w.PersistRoute(ctx, &domain.Route{RouteCode: "RT-20260105-001", RouteDate: day})
		require.NoError(t, err)
		require.NoError(t, w.UpdateBookingAssignment(ctx, domain.BookingAssignment{BookingID: "b1", RouteID: id}))
		return w.UpdateBookingAssignment(ctx, domain.BookingAssignment{BookingID: "b2", RouteID: id})
	})
	require.ErrorIs(t, err, boom)

	routes, err := store.ListRoutes(ctx, day)
	require.NoError(t, err)
	require.Empty(t, routes)
	b1, _ := store.Booking("b1")
	require.Empty(t, b1.RouteID)

	store.FailWhen(nil)
	_, err = store.PersistRoute(ctx, &domain.Route{RouteCode: "RT-20260105-004", RouteDate: day})
	require.NoError(t, err)
	require.NoError(t, store.UpdateBookingAssignment(ctx, domain.BookingAssignment{BookingID: "b1", RouteID: "r", StopOrder: 1}))

	b1, _ = store.Booking("b1")
	require.Equal(t, "r", b1.RouteID)
	require.Equal(t, domain.BookingStatusScheduled, b1.Status)

	seq, err := store.NextRouteSequence(ctx, day)
	require.NoError(t, err)
	require.Equal(t, 5, seq)

	left, err := store.FetchUnscheduledBookings(ctx, day, "")
	require.NoError(t, err)
	require.Len(t, left, 1)

	err = store.UpdateBookingAssignment(ctx, domain.BookingAssignment{BookingID: "ghost"})
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestMemoryPlanningStoreFailOn(t *testing.T) {
	store := NewMemoryPlanningStore()
	boom := errors.New("connection reset")
	store.FailOn(OpFetchVehicles, boom)

	_, err := store.FetchVehicles(context.Background(), ports.VehicleFilter{})
	require.ErrorIs(t, err, boom)

	_, err = store.FetchUnscheduledBookings(context.Background(), time.Now(), "")
	require.NoError(t, err)
}
