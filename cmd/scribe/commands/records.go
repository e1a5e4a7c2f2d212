package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/identity"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/sym"
)

// RecordsCmd inspects the content records used for deduplication.
var RecordsCmd = &cobra.Command{
	Use:   "records",
	Short: sym.Prefix("records") + sym.CommandDescriptions["records"],
	Long: sym.DB + ` records: content records

Every file scribe sees is recorded by content hash. A record that is
completed and verified makes scribe skip that content, under any name.
Forgetting a record makes the content eligible again.

Examples:
  scribe records ls
  scribe records show talk.mp3
  scribe records forget 3yZe7d9Kx2Q`,
}

var recordsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List content records, most recently updated first",
	Args:  cobra.NoArgs,
	RunE:  runRecordsLs,
}

var recordsShowCmd = &cobra.Command{
	Use:   "show <file|hash|id>",
	Short: "Show the record for a media file or content hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsShow,
}

var recordsForgetCmd = &cobra.Command{
	Use:   "forget <file|hash|id>",
	Short: "Delete a record so the content is transcribed again",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordsForget,
}

var (
	recordsLimit int
	recordsJSON  bool
)

func init() {
	recordsLsCmd.Flags().IntVarP(&recordsLimit, "limit", "n", 50, "Maximum records to list")
	RecordsCmd.PersistentFlags().BoolVar(&recordsJSON, "json", false, "Output as JSON")

	RecordsCmd.AddCommand(recordsLsCmd)
	RecordsCmd.AddCommand(recordsShowCmd)
	RecordsCmd.AddCommand(recordsForgetCmd)
}

func openIdentity() (*identity.Service, func() error, error) {
	cfg, database, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	svc := identity.NewService(identity.NewSQLRecordStore(database), cfg.Pipeline.OutputDir, logger.Logger.Named("identity"))
	return svc, database.Close, nil
}

// resolveRecord accepts an existing file (hashed), a full content hash, or
// the short id shown by `records ls`.
func resolveRecord(ctx context.Context, svc *identity.Service, arg string) (*identity.Record, error) {
	if info, err := os.Stat(arg); err == nil && info.Mode().IsRegular() {
		return svc.LookupPath(ctx, arg)
	}
	rec, err := svc.Lookup(ctx, arg)
	if err == nil || !errors.IsNotFoundError(err) {
		return rec, err
	}

	all, listErr := svc.List(ctx, 0)
	if listErr != nil {
		return nil, listErr
	}
	for i := range all {
		if identity.ShortID(all[i].ContentHash) == arg {
			return &all[i], nil
		}
	}
	return nil, err
}

func runRecordsLs(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openIdentity()
	if err != nil {
		return err
	}
	defer closeDB()

	records, err := svc.List(cmd.Context(), recordsLimit)
	if err != nil {
		return err
	}
	if recordsJSON {
		return printJSON(records)
	}
	if len(records) == 0 {
		pterm.Info.Println("No content records")
		return nil
	}
	return pterm.DefaultTable.WithHasHeader().WithData(recordTable(records)).Render()
}

func runRecordsShow(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openIdentity()
	if err != nil {
		return err
	}
	defer closeDB()

	rec, err := resolveRecord(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	if recordsJSON {
		return printJSON(rec)
	}

	fmt.Printf("Content:   %s (%s)\n", identity.ShortID(rec.ContentHash), rec.ContentHash)
	fmt.Printf("File:      %s\n", rec.FilePath)
	fmt.Printf("Status:    %s\n", rec.Status)
	fmt.Printf("Verified:  %t\n", rec.Verified)
	if rec.RemoteJobID != "" {
		fmt.Printf("Remote:    %s\n", rec.RemoteJobID)
	}
	if rec.OutputPath != "" {
		fmt.Printf("Output:    %s\n", rec.OutputPath)
	}
	fmt.Printf("Created:   %s\n", formatTime(rec.CreatedAt))
	fmt.Printf("Updated:   %s\n", formatTime(rec.UpdatedAt))
	return nil
}

func runRecordsForget(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openIdentity()
	if err != nil {
		return err
	}
	defer closeDB()

	rec, err := resolveRecord(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	if err := svc.Forget(cmd.Context(), rec.ContentHash); err != nil {
		return err
	}
	pterm.Success.Printfln("Forgot %s (%s)", identity.ShortID(rec.ContentHash), rec.FilePath)
	return nil
}
