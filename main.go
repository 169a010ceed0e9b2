package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deployguard/config"
	"deployguard/logging"
)

var version = "dev"

var rootFlags struct {
	config string
}

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "deployguard",
	Short: "Risk analysis for deployment artifacts",
	Long: `DeployGuard inspects SQL migrations, infrastructure configuration and
deployment manifests before they ship. Each artifact goes through a
deterministic rule pass, an optional model-assisted enrichment pass, and a
weighted risk score; the result is a Markdown risk report.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadConfig(rootFlags.config); err != nil {
			return err
		}
		logCloser = logging.InitLogger(config.AppConfig.Logging)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser == nil {
			return nil
		}
		return logCloser.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", "", "path to config.yaml (default: ./config.yaml if present)")

	rootCmd.AddCommand(analyzeCmd, serveCmd, rulesCmd)

	rootCmd.Version = version
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}
