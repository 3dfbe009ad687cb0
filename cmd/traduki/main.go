package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "traduki",
	Short: "Interactive translation service with per-user glossaries",
	Long: `traduki is a translation assistant: it produces a draft translation,
takes feedback in conversation turns, and learns glossary terms and phrasing
rules from that feedback for future translations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the traduki version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("traduki version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(translateCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(improvementsCmd)
	rootCmd.AddCommand(glossaryCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(usageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
