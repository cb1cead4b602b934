package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"FhirChat/internal/config"
)

var (
	cfgFile string
	v       = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fhirchat",
	Short: "A chat assistant answering questions from a FHIR R4 server",
	Long: `fhirchat routes chat messages to FHIR R4 searches (patients, conditions,
procedures, encounters, observations and prescriptions) and replies with a
summary of the result.

Run it as a terminal REPL (chat), as a web widget server (serve), or answer
a single question (ask). Configuration comes from a TOML file, FHIRCHAT_*
environment variables and flags.`,
	SilenceUsage: true,
}

// Execute runs the root command until it returns or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (TOML)")
	flags.String("fhir-base-url", config.DefaultFHIRBaseURL, "FHIR R4 server base URL")
	flags.Duration("request-timeout", 0, "timeout for each FHIR request (0 waits indefinitely)")
	flags.String("log-dir", config.DefaultLogDir, "directory for log, trace and metric files")
	flags.Bool("debug", false, "enable debug logging")
	flags.Bool("telemetry", false, "export traces and metrics to files in the log directory")
	flags.String("transcript-db", "", "SQLite file archiving conversation transcripts (disabled when empty)")

	bindFlag(config.KeyFHIRBaseURL, "fhir-base-url")
	bindFlag(config.KeyRequestTimeout, "request-timeout")
	bindFlag(config.KeyLogDir, "log-dir")
	bindFlag(config.KeyDebug, "debug")
	bindFlag(config.KeyTelemetry, "telemetry")
	bindFlag(config.KeyTranscriptDB, "transcript-db")

	rootCmd.AddCommand(chatCmd, serveCmd, askCmd, transcriptsCmd)
}

func bindFlag(key, name string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
	}
}
