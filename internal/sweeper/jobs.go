package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/logger"
)

type OrderExpirer interface {
	ExpireStaleHolds(ctx context.Context) (int, error)
	ExpireAbandonedOrders(ctx context.Context) (int, error)
}

type TicketExpirer interface {
	ExpireEndedEvents(ctx context.Context) (int, error)
}

// ReservationSweep releases stale holds first, then abandoned orders whose
// holds are still live. Both passes run even if the first one fails.
func ReservationSweep(orders OrderExpirer, log *logger.Logger, interval time.Duration) Job {
	return Job{
		Name:     JobReservationSweep,
		Interval: interval,
		Run: func(ctx context.Context) error {
			stale, staleErr := orders.ExpireStaleHolds(ctx)
			abandoned, abandonedErr := orders.ExpireAbandonedOrders(ctx)
			if stale+abandoned > 0 {
				log.LogSweep(JobReservationSweep, fmt.Sprintf("expired %d order(s) with stale holds, %d abandoned", stale, abandoned))
			}
			return errors.Join(staleErr, abandonedErr)
		},
	}
}

func TicketExpiry(tickets TicketExpirer, interval time.Duration) Job {
	return Job{
		Name:     JobTicketExpiry,
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := tickets.ExpireEndedEvents(ctx)
			return err
		},
	}
}
