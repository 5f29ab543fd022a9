// Command qbsync is the operator CLI for the synchronization store: it
// inspects tickets, sweeps unsynchronized orders, and manages item-name
// mappings, working directly against the SQLite file.
package main

import (
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/code-and-effect/effective-qb-sync/internal/config"
	internaldb "github.com/code-and-effect/effective-qb-sync/internal/db"
	"github.com/code-and-effect/effective-qb-sync/internal/db/repository"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var dbPath string

	rootCmd := &cobra.Command{
		Use:           "qbsync",
		Short:         "QuickBooks synchronization store CLI",
		Long:          "Operator tooling for the QuickBooks Web Connector synchronization server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the SQLite file (defaults to $DB_PATH, then qb_sync.sqlite)")

	rootCmd.AddCommand(
		newTicketsCmd(&dbPath),
		newSweepCmd(&dbPath),
		newOrdersCmd(&dbPath),
		newItemsCmd(&dbPath),
		newVersionCmd(),
	)
	return rootCmd
}

// openStore opens the store for one CLI invocation. Migrations run first so
// the CLI works against a fresh file.
func openStore(dbPath string) (*repository.Store, func(), error) {
	if dbPath == "" {
		dbPath = os.Getenv("DB_PATH")
	}
	if dbPath == "" {
		dbPath = "qb_sync.sqlite"
	}

	writeDB, readDB, err := internaldb.OpenSQLitePair(dbPath, 2)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	}

	if err := internaldb.RunMigrations(writeDB); err != nil {
		cleanup()
		return nil, nil, err
	}

	var itemNameMap map[string]string
	if path := os.Getenv("ITEM_NAME_MAP_PATH"); path != "" {
		itemNameMap, err = config.LoadItemNameMap(path)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	return repository.NewStore(writeDB, readDB, itemNameMap), cleanup, nil
}
