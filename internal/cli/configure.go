package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkoval/zoya/internal/config"
)

var (
	configureToken  string
	configureAPIKey []string
	configureAdmin  []int64
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the configuration file",
	Long:  "Write the configuration file with defaults, the Telegram bot token, provider API keys, and admin IDs. Existing values are preserved.",
	RunE:  runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureToken, "telegram-token", "", "Telegram bot token")
	configureCmd.Flags().StringArrayVar(&configureAPIKey, "api-key", nil, "provider API key (repeatable)")
	configureCmd.Flags().Int64SliceVar(&configureAdmin, "admin-id", nil, "Telegram user ID with admin rights (repeatable)")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	validator := config.NewValidator()
	if configureToken != "" {
		if err := validator.ValidateTelegramToken(configureToken); err != nil {
			return err
		}
		cfg.Telegram.BotToken = configureToken
	}
	if len(configureAPIKey) > 0 {
		cfg.Provider.APIKeys = configureAPIKey
	}
	if len(configureAdmin) > 0 {
		cfg.Telegram.AdminIDs = configureAdmin
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", loader.GetConfigPath())
	return nil
}
