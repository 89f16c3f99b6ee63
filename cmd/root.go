package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Face recognition attendance service",
	Long: `Attendance registers people by face, runs time-boxed attendance sessions
per group and marks who was present by matching camera frames against the
registered face descriptors of the session's group.

Configuration comes from environment variables. A .env file (see --env-file)
is loaded first and never overrides variables that are already set. Without
DATABASE_URL only serve and enroll run, on the in-memory store.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadEnvFile)
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before configuration")
}

func loadEnvFile() {
	err := godotenv.Load(envFile)
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: %s: %v\n", envFile, err)
	}
}
