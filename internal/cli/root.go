// Package cli implements portunus-admin, the operator's client for a door
// controller's access gateway.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/gateway"
)

var (
	cfg    *Config
	client *gateway.Client
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "portunus-admin",
		Short: "Administer the credential store of a door controller",
		Long: `portunus-admin talks to a door controller's access gateway over TLS.

Every request authenticates as an administrator record of the credential
store. The gateway answers rejected requests with an empty line, so
mutating commands read the record back to confirm the change.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			tlsCfg, err := gateway.ClientTLS(cfg.CAFile, cfg.ServerName, cfg.Insecure)
			if err != nil {
				return err
			}
			client = gateway.NewClient(gateway.ClientConfig{Addr: cfg.Addr, TLS: tlsCfg, Timeout: cfg.Timeout})
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfg.Addr, "addr", cfg.Addr, "Gateway address host:port (env: PORTUNUS_ADMIN_ADDR)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Admin, "admin", "u", cfg.Admin, "Administrator identity (env: PORTUNUS_ADMIN_USER)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Password, "password", "p", cfg.Password, "Administrator password (env: PORTUNUS_ADMIN_PASSWORD)")
	rootCmd.PersistentFlags().StringVar(&cfg.CAFile, "ca-file", cfg.CAFile, "PEM file with the gateway certificate (env: PORTUNUS_ADMIN_CA_FILE)")
	rootCmd.PersistentFlags().StringVar(&cfg.ServerName, "server-name", cfg.ServerName, "Expected certificate name (env: PORTUNUS_ADMIN_SERVER_NAME)")
	rootCmd.PersistentFlags().BoolVar(&cfg.Insecure, "insecure", cfg.Insecure, "Skip certificate verification (env: PORTUNUS_ADMIN_INSECURE)")
	rootCmd.PersistentFlags().DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Request timeout")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")

	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newAddTokenCmd())
	rootCmd.AddCommand(newDeleteTokenCmd())
	rootCmd.AddCommand(newDeleteAllCmd())
	rootCmd.AddCommand(newListTokensCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
