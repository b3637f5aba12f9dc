package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/warpdl/esgfetch/internal/catalog"
)

// requeueCommand resets one transfer, or every error-status transfer,
// back to waiting. A running engine does not pick requeued rows up: its
// metadata reader only scans rows past the highest transfer_id it has
// already seen, so they are dispatched on the engine's next start.
func requeueCommand(ctx *cli.Context) error {
	store, err := catalog.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	background := context.Background()

	if id := ctx.Int64("transfer-id"); id != 0 {
		if err := store.MarkWaiting(background, id); err != nil {
			return fmt.Errorf("requeue transfer %d: %w", id, err)
		}
		fmt.Println("requeued transfer", id)
		return nil
	}

	errored, err := store.ListByStatus(background, catalog.StatusError)
	if err != nil {
		return fmt.Errorf("list error transfers: %w", err)
	}
	for _, t := range errored {
		if err := store.MarkWaiting(background, t.TransferID); err != nil {
			return fmt.Errorf("requeue transfer %d: %w", t.TransferID, err)
		}
	}
	fmt.Printf("requeued %d transfer(s)\n", len(errored))
	return nil
}
