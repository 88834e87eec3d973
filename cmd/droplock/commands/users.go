package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gxav/droplock/internal/cli/output"
	"github.com/gxav/droplock/pkg/config"
	badgerstore "github.com/gxav/droplock/pkg/registry/badger"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List registered users",
	Long: `List all registered users with their current state.

The server must not be running; the registry database takes an exclusive
lock.`,
	RunE: runUsers,
}

func runUsers(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	store, err := badgerstore.Open(badgerstore.Options{
		DataDir:  cfg.Storage.DataDir,
		FilesDir: cfg.Storage.FilesDir,
	})
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	users, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No registered users.")
		return nil
	}

	table := output.NewTableData("NAME", "CLIENT ID", "SESSION KEY", "FILE", "LAST SEEN")
	for _, u := range users {
		keyState := "none"
		if len(u.SessionKey) > 0 {
			keyState = "established"
		}

		fileState := "-"
		if file, err := store.GetFile(ctx, u.ID); err == nil {
			fileState = file.FileName
			if file.Verified {
				fileState += " (verified)"
			} else {
				fileState += " (unverified)"
			}
		}

		table.AddRow(u.Name, u.ID.String(), keyState, fileState, u.LastSeen.Format("2006-01-02 15:04:05"))
	}

	return output.PrintTable(os.Stdout, table)
}
