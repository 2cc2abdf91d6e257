package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/nestkv/internal/telemetry/logger"
	"github.com/yndnr/nestkv/pkg/store"
	"github.com/yndnr/nestkv/pkg/value"
)

// ErrNotFound is returned by get when nothing is stored at the path.
var ErrNotFound = errors.New("not found")

// GetCommand returns the get command.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print the value at a dotted path",
		ArgsUsage: "PATH",
		Action:    get,
	}
}

// SetCommand returns the set command.
func SetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Store a JSON value at a dotted path",
		ArgsUsage: "PATH JSON",
		Action:    set,
	}
}

// DelCommand returns the del command.
func DelCommand() *cli.Command {
	return &cli.Command{
		Name:      "del",
		Aliases:   []string{"rm"},
		Usage:     "Remove the entry at a dotted path",
		ArgsUsage: "PATH",
		Action:    del,
	}
}

// DumpCommand returns the dump command.
func DumpCommand() *cli.Command {
	return &cli.Command{
		Name:   "dump",
		Usage:  "Print the whole state",
		Action: dump,
	}
}

func pathArg(c *cli.Context, want int) (value.Path, error) {
	if c.NArg() != want {
		return nil, fmt.Errorf("%s: expected %d argument(s), got %d", c.Command.Name, want, c.NArg())
	}
	path := value.ParsePath(c.Args().First())
	if len(path) == 0 {
		return nil, fmt.Errorf("%s: %w", c.Command.Name, store.ErrEmptyPath)
	}
	return path, nil
}

func get(c *cli.Context) error {
	path, err := pathArg(c, 1)
	if err != nil {
		return err
	}
	return withDB(c, func(_ context.Context, db *store.DB) error {
		v, ok := db.GetIn(path)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return printResult(c, v)
	})
}

func set(c *cli.Context) error {
	path, err := pathArg(c, 2)
	if err != nil {
		return err
	}
	v, err := value.Parse(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("set: parse value: %w", err)
	}
	return withDB(c, func(ctx context.Context, db *store.DB) error {
		logger.L(ctx).Debug("storing value", "path", path.String(), "value", v.String())
		if len(path) == 1 {
			return db.Assoc(path[0], v)
		}
		return db.AssocIn(path, v)
	})
}

func del(c *cli.Context) error {
	path, err := pathArg(c, 1)
	if err != nil {
		return err
	}
	return withDB(c, func(ctx context.Context, db *store.DB) error {
		logger.L(ctx).Debug("removing value", "path", path.String())
		last := len(path) - 1
		if last == 0 {
			return db.Dissoc(path[0])
		}
		return db.DissocIn(path[:last], path[last])
	})
}

func dump(c *cli.Context) error {
	return withDB(c, func(_ context.Context, db *store.DB) error {
		return printResult(c, db.State())
	})
}
