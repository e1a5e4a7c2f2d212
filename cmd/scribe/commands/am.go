package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.Prefix("am") + sym.CommandDescriptions["am"],
	Long: sym.AM + ` am: scribe configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/scribe/am.toml)
3. User config (~/.scribe/am.toml)
4. Project config (./am.toml, searched up from the working directory)
5. Environment variables (SCRIBE_* prefix, .env is loaded first)

Examples:
  scribe am show                  # Show current configuration
  scribe am show --format json    # Show configuration as JSON
  scribe am get remote.base_url   # Get one value
  scribe am init                  # Write defaults to ./am.toml
  scribe am where                 # Show where each value comes from`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value by dotted key",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to am.toml",
	Long: `Write the built-in defaults to ./am.toml, or ~/.scribe/am.toml with --user.
An existing file is kept unless --force is given, in which case it is
rotated into .back1/.back2/.back3 first.`,
	RunE: runAmInit,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where each configuration value is loaded from",
	RunE:  runAmWhere,
}

var (
	configFormat string
	initUser     bool
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().BoolVar(&initUser, "user", false, "Write the user config instead of ./am.toml")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amInitCmd)
	AmCmd.AddCommand(amWhereCmd)
}

// marshalConfig encodes cfg in one of the supported formats.
func marshalConfig(cfg *am.Config, format string) ([]byte, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal config to JSON")
		}
		return append(data, '\n'), nil
	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal config to YAML")
		}
		return append([]byte("# scribe configuration\n"), data...), nil
	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal config to TOML")
		}
		return append([]byte("# scribe configuration\n"), data...), nil
	default:
		return nil, errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	// Never print the key itself
	if cfg.Remote.APIKey != "" {
		cfg.Remote.APIKey = "********"
	}
	data, err := marshalConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	v := am.GetViper()
	if !v.IsSet(key) {
		return errors.NewNotFoundError("configuration key %q not found", key)
	}
	if key == "remote.api_key" {
		fmt.Println("********")
		return nil
	}
	fmt.Println(v.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := "am.toml"
	if initUser {
		dir := am.UserConfigDir()
		if dir == "" {
			return errors.New("cannot determine home directory")
		}
		path = filepath.Join(dir, "am.toml")
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return errors.WithHint(
			errors.NewInvalidRequestError("%s already exists", path),
			"use --force to overwrite it, the old file is kept as .back1")
	}
	if err := am.WriteConfig(am.DefaultConfig(), path); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s", path)
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return errors.Wrap(err, "failed to get config introspection")
	}

	fmt.Println("Configuration cascade (later overrides earlier):")
	fmt.Println("  1. [DEFAULT]  Built-in defaults")
	fmt.Println("  2. [SYSTEM]   /etc/scribe/am.toml")
	fmt.Println("  3. [USER]     ~/.scribe/am.toml")
	fmt.Println("  4. [PROJECT]  ./am.toml (searches up directories)")
	fmt.Println("  5. [ENV]      SCRIBE_* environment variables")
	fmt.Println()

	data := pterm.TableData{{"KEY", "VALUE", "SOURCE", "FROM"}}
	for _, s := range intro.Settings {
		data = append(data, []string{s.Key, truncate(fmt.Sprintf("%v", s.Value), 50), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
