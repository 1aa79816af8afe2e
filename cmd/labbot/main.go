package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/health-apis/labbot/internal/cli/output"
	"github.com/health-apis/labbot/internal/config"
)

var (
	configFile   string
	logLevel     string
	logToFile    bool
	logDir       string
	outputFormat string
	jsonOutput   bool

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		code := exitCodeFor(err)
		printError(rootCmd.ErrOrStderr(), err)
		os.Exit(code)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "labbot",
		Short:         "Log lab users in through SMART-on-FHIR and check what their tokens can read",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultConfigFile, "Properties file path (missing file means environment only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Also log to a rotating file in the standard OS location")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path (overrides standard OS location)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format (text, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Shorthand for --output json")

	rootCmd.AddCommand(getTokensCommand())
	rootCmd.AddCommand(getRequestCommand())
	rootCmd.AddCommand(getUsersCommand())
	rootCmd.AddCommand(getDiscoverCommand())
	rootCmd.AddCommand(getHistoryCommand())
	rootCmd.AddCommand(getSecretsCommand())

	return rootCmd
}

// formatter returns the formatter selected by --output / --json / LABBOT_OUTPUT.
func formatter() (output.OutputFormatter, error) {
	f, err := output.NewFormatter(output.ResolveFormat(outputFormat, jsonOutput))
	if err != nil {
		return nil, output.NewStructuredError(output.ErrCodeInvalidOutputFormat, err.Error())
	}
	return f, nil
}

func printError(w io.Writer, err error) {
	f, fmtErr := formatter()
	if fmtErr != nil {
		f = &output.TableFormatter{Condensed: true}
	}
	text, fmtErr := f.FormatError(structuredErrorFor(err))
	if fmtErr != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(w, text)
}

func printResult(w io.Writer, text string) {
	if text == "" {
		return
	}
	fmt.Fprintln(w, text)
}

func isText(f output.OutputFormatter) bool {
	_, ok := f.(*output.TableFormatter)
	return ok
}
