package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/store"
	"github.com/roach88/gridsync/internal/txn"
	"github.com/roach88/gridsync/internal/xlsx"
)

// ImportSessionID is the session recorded on imported transactions.
const ImportSessionID = "import"

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database string
	FileID   string
	In       string
}

// ImportResult reports a seeded file.
type ImportResult struct {
	FileID        string   `json:"file_id"`
	TransactionID string   `json:"transaction_id"`
	Seq           int64    `json:"seq"`
	Sheets        []string `json:"sheets"`
	Operations    int      `json:"operations"`
}

func (r ImportResult) String() string {
	return fmt.Sprintf("✓ Imported %d sheet(s) into %s at seq %d\n  %s",
		len(r.Sheets), r.FileID, r.Seq, strings.Join(r.Sheets, ", "))
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Seed a new file from an .xlsx workbook",
		Long: `Read an .xlsx workbook and append it to the log of a new file as a
single transaction. The file must not have any history yet.

Examples:
  gridsync import --db ./gridsync.db --file budget --in budget.xlsx`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.FileID, "file", "", "file ID (required)")
	cmd.Flags().StringVarP(&opts.In, "in", "i", "", "workbook to import (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("in")

	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := formatter(opts.RootOptions, cmd)

	in, err := os.Open(opts.In)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open workbook", err)
	}
	defer in.Close()

	reg, err := xlsx.Import(in)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read workbook", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if err := ensureNewFile(ctx, st, opts.FileID); err != nil {
		if opts.Format == "json" {
			_ = out.Error(CodeFileExists, err.Error(), nil)
		}
		return err
	}

	// Apply to the file's initial grid first so a workbook the grid
	// cannot hold never reaches the log.
	ctrl := txn.NewController(sheet.NewForFile(opts.FileID))
	tx, _, err := ctrl.ApplyDetached(xlsx.SeedOperations(opts.FileID, reg), "")
	if err != nil {
		return WrapExitError(ExitFailure, "workbook does not apply", err)
	}
	if tx == nil {
		return NewExitError(ExitFailure, "workbook is empty")
	}

	rec, err := store.NewTransaction(opts.FileID, ImportSessionID, tx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode transaction", err)
	}
	stored, _, err := st.AppendTransaction(ctx, rec)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to append transaction", err)
	}
	out.VerboseLog("appended %s at seq %d", stored.ID, stored.Seq)

	names := make([]string, 0, reg.Len())
	for _, s := range ctrl.Registry().Ordered() {
		names = append(names, s.Name)
	}
	return out.Success(ImportResult{
		FileID:        opts.FileID,
		TransactionID: stored.ID,
		Seq:           stored.Seq,
		Sheets:        names,
		Operations:    len(tx.Operations),
	})
}

// ensureNewFile fails unless fileID has neither transactions nor
// checkpoints.
func ensureNewFile(ctx context.Context, st *store.Store, fileID string) error {
	seq, err := st.LastSequence(ctx, fileID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read file", err)
	}
	if seq > 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("file %s already has %d transaction(s)", fileID, seq))
	}
	_, err = st.LatestCheckpoint(ctx, fileID)
	switch {
	case err == nil:
		return NewExitError(ExitCommandError, fmt.Sprintf("file %s already has a checkpoint", fileID))
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return WrapExitError(ExitCommandError, "failed to read file", err)
	}
}
