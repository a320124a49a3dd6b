package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmark-archiver/internal/app"
	"github.com/JakeFAU/bookmark-archiver/internal/archive"
)

func newRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <url>",
		Short: "Prints the archive record of a URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecordCommand,
	}
}

type recordOutput struct {
	archive.Record
	State archive.State `json:"state"`
}

func runRecordCommand(cmd *cobra.Command, args []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	store, closeStore, err := app.OpenStore(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			e.logger.Warn("failed to close status store", zap.Error(cerr))
		}
	}()

	rec, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(recordOutput{Record: rec, State: rec.State()}); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
