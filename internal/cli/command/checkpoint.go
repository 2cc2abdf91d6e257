package command

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/nestkv/pkg/store"
)

// CheckpointCommand returns the checkpoint command.
func CheckpointCommand() *cli.Command {
	return &cli.Command{
		Name:   "checkpoint",
		Usage:  "Write a snapshot and truncate the journal",
		Action: checkpoint,
	}
}

func checkpoint(c *cli.Context) error {
	return withDB(c, func(ctx context.Context, db *store.DB) error {
		info, err := db.Checkpoint(ctx)
		if err != nil {
			return err
		}
		return printResult(c, info)
	})
}
