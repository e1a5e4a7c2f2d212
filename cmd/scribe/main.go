package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teranos/scribe/cmd/scribe/commands"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/sym"
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: sym.Pulse + " scribe - batch transcription for media folders",
	Long: `scribe turns folders of audio and video into verified transcripts.

Every file is fingerprinted by content, so renamed or copied media is never
sent to the transcription provider twice. Jobs survive transient provider
failures and report their progress while they run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		return logger.InitializeWithLevel(jsonLogs, logger.VerbosityToLevel(verbosity))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.RecordsCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	// A missing .env is normal
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint:", hint)
		}
		os.Exit(1)
	}
}
