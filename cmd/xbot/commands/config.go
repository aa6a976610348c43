package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/sakaguchi/xbot/config"
)

// ConfigCmd groups configuration inspection commands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved configuration",
	Long: `config — Inspect the layered bot configuration.

Examples:
  xbot config show                  # Show resolved configuration
  xbot config show --format json    # Show configuration in JSON format
  xbot config get database.path     # Get a specific config value
  xbot config validate              # Validate current configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved configuration",
	Long:  "Display the resolved configuration from all sources, credentials redacted",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, scheduler.max_attempts)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runConfigValidate,
}

var configFormat string

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json")

	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configGetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	redacted := *cfg
	redacted.Translation.OpenAI.APIKey = redact(cfg.Translation.OpenAI.APIKey)
	redacted.Credentials = make([]config.CredentialConfig, len(cfg.Credentials))
	for i, cred := range cfg.Credentials {
		redacted.Credentials[i] = config.CredentialConfig{
			Name:           cred.Name,
			ConsumerKey:    redact(cred.ConsumerKey),
			ClosingMessage: cred.ClosingMessage,
		}
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(redacted, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))
	default:
		data, err := toml.Marshal(redacted)
		if err != nil {
			return fmt.Errorf("failed to marshal config to TOML: %w", err)
		}
		fmt.Print(string(data))
	}
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	v := config.GetViper()
	value := v.Get(args[0])
	if value == nil {
		return fmt.Errorf("unknown config key %q", args[0])
	}
	fmt.Println(value)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Println("Configuration is valid")
	return nil
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
