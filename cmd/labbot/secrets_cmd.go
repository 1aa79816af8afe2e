package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/health-apis/labbot/internal/prompt"
	"github.com/health-apis/labbot/internal/secret"
)

// getSecretsCommand returns the secrets command
func getSecretsCommand() *cobra.Command {
	secretsCmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage lab secrets stored in the OS keyring",
		Long: "Store lab passwords and client secrets in the operating system keyring so the " +
			"properties file can refer to them as ${keyring:NAME}.",
	}

	secretsCmd.AddCommand(getSecretsSetCommand())

	return secretsCmd
}

// getSecretsSetCommand returns the secrets set command
func getSecretsSetCommand() *cobra.Command {
	var fromEnv string

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret in the keyring",
		Long:  "Store a secret in the OS keyring. The value is read from --from-env or prompted for without echo.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			var value string
			if fromEnv != "" {
				value = os.Getenv(fromEnv)
				if value == "" {
					return fmt.Errorf("environment variable %s is not set or empty", fromEnv)
				}
			} else {
				var err error
				value, err = prompt.NewConsolePrompter().PromptSecret("Enter secret value: ")
				if err != nil {
					return fmt.Errorf("failed to read secret: %w", err)
				}
			}
			if value == "" {
				return fmt.Errorf("secret value cannot be empty")
			}

			provider := secret.NewKeyringProvider()
			if !provider.IsAvailable() {
				return fmt.Errorf("OS keyring is not available on this system")
			}
			if err := provider.Store(name, value); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Secret '%s' stored in the keyring\n", name)
			fmt.Fprintf(out, "Use in %s: ${%s:%s}\n", configFile, secret.SecretTypeKeyring, name)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromEnv, "from-env", "", "Read value from environment variable")

	return cmd
}
