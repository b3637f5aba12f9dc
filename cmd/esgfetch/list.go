package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	"github.com/warpdl/esgfetch/internal/catalog"
)

func listCommand(ctx *cli.Context) error {
	store, err := catalog.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	status := catalog.Status(ctx.String("status"))
	switch status {
	case catalog.StatusWaiting, catalog.StatusRunning, catalog.StatusDone, catalog.StatusError:
	default:
		return fmt.Errorf("unknown status %q", status)
	}

	transfers, err := store.ListByStatus(context.Background(), status)
	if err != nil {
		return fmt.Errorf("list transfers: %w", err)
	}
	if len(transfers) == 0 {
		fmt.Println("no transfers with status", status)
		return nil
	}
	for _, t := range transfers {
		if t.Status == catalog.StatusError {
			fmt.Printf("%d\t%s\t%s\t%s\n", t.TransferID, t.Datanode, t.LocalImage, t.ErrorMsg)
			continue
		}
		fmt.Printf("%d\t%s\t%s\n", t.TransferID, t.Datanode, t.LocalImage)
	}
	return nil
}
