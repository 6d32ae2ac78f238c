package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/canvasledger/cl/config"
	"github.com/canvasledger/cl/display"
	"github.com/canvasledger/cl/errors"
)

// ConfigCmd represents the config command group
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage cl configuration",
	Long: `Manage cl configuration.

Configuration is stored in ~/.config/cl/config.toml and can be
overridden per project (./cl.toml) or per environment (CL_* variables).
API tokens are never written to the config file: use CL_CANVAS_TOKEN or
set canvas.token_command to a command that prints the token.

Start here: run 'cl config init' to write a starter config file.`,
}

var (
	initCanvasURL    string
	initDBPath       string
	initTokenCommand string
	initForce        bool
)

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a starter configuration file to ~/.config/cl/config.toml.

Examples:
  cl config init --canvas-url https://canvas.example.edu
  cl config init -u canvas.example.edu --token-command "op read op://Private/canvas/token"`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display every configuration setting with the source it came from
(default, user file, project file, or environment). Token material is
always masked.`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Update a configuration value",
	Long: `Update a single value in ~/.config/cl/config.toml, preserving
everything else in the file. Keys are dotted TOML paths.

Common keys: canvas.base_url, canvas.token_command, canvas.page_size,
database.path, ingest.include_concluded, display.format

Note: canvas.token cannot be set here. Use the CL_CANVAS_TOKEN
environment variable or canvas.token_command instead.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	RunE:  runConfigValidate,
}

var (
	configShowFormat string
	configShowReveal bool
)

func init() {
	configInitCmd.Flags().StringVarP(&initCanvasURL, "canvas-url", "u", "", "Canvas base URL (e.g., https://canvas.example.edu)")
	configInitCmd.Flags().StringVarP(&initDBPath, "db-path", "d", "", "Path to the SQLite database file")
	configInitCmd.Flags().StringVar(&initTokenCommand, "token-command", "", "Command that prints the Canvas API token on stdout")
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing configuration")

	configShowCmd.Flags().StringVarP(&configShowFormat, "format", "f", "", "Output format (table, json, yaml)")
	configShowCmd.Flags().BoolVarP(&configShowReveal, "reveal", "r", false, "Check whether a token is resolvable (never prints the token)")

	ConfigCmd.AddCommand(configInitCmd)
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configSetCmd)
	ConfigCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := config.Init(initForce)
	if err != nil {
		if errors.IsConflict(err) {
			return errors.WithHint(err, "use --force to overwrite")
		}
		return err
	}

	if initCanvasURL != "" {
		url := initCanvasURL
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			url = "https://" + url
		}
		if err := config.SetValue("canvas.base_url", url); err != nil {
			return err
		}
	}
	if initDBPath != "" {
		if err := config.SetValue("database.path", initDBPath); err != nil {
			return err
		}
	}
	if initTokenCommand != "" {
		if err := config.SetValue("canvas.token_command", initTokenCommand); err != nil {
			return err
		}
	}

	cliSuccess(fmt.Sprintf("Configuration saved to %s", path))
	fmt.Println()
	fmt.Println("Next steps:")
	step := 1
	if initCanvasURL == "" {
		fmt.Printf("  %d. Set your Canvas base URL:\n", step)
		fmt.Println("     cl config set canvas.base_url https://canvas.example.edu")
		step++
	}
	if initTokenCommand == "" {
		fmt.Printf("  %d. Set your Canvas API token:\n", step)
		fmt.Println("     export CL_CANVAS_TOKEN='your-token-here'")
		step++
	}
	fmt.Printf("  %d. Initialize the database:\n", step)
	fmt.Println("     cl db migrate")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := resolveShowFormat(configShowFormat)
	if err != nil {
		return err
	}

	intro, err := config.GetConfigIntrospection()
	if err != nil {
		return err
	}

	switch format {
	case display.FormatJSON, display.FormatYAML:
		if err := display.Format(cmd.OutOrStdout(), intro, format, nil); err != nil {
			return err
		}
	default:
		fmt.Println("Current configuration:")
		fmt.Printf("  Config file: %s\n", intro.ConfigFile)
		fmt.Println()
		for _, s := range intro.Settings {
			fmt.Printf("  %-35s = %-40v (%s)\n", s.Key, s.Value, s.Source)
		}
	}

	if configShowReveal {
		fmt.Println()
		fmt.Println("Token status:")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		token, err := cfg.ResolveToken(cmd.Context())
		switch {
		case err == nil && token != "":
			fmt.Println(pterm.Green("  Canvas API token: configured"))
		case err != nil && !errors.IsValidation(err):
			fmt.Println(pterm.Red("  Error checking token: " + err.Error()))
		default:
			fmt.Println(pterm.Yellow("  Canvas API token: not configured"))
		}
	}
	return nil
}

// resolveShowFormat restricts config show to the formats that make
// sense for a key/value listing.
func resolveShowFormat(flag string) (string, error) {
	format, err := resolveFormat(flag)
	if err != nil {
		return "", err
	}
	if format == display.FormatCSV {
		return "", errors.NewValidationf("config show supports table, json, and yaml output")
	}
	return format, nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	if key == "canvas.token" {
		return errors.WithHint(
			errors.NewValidationf("canvas.token cannot be stored in the config file"),
			"use the CL_CANVAS_TOKEN environment variable or canvas.token_command")
	}

	if err := config.SetValue(key, value); err != nil {
		return err
	}

	// Reject values the rest of the CLI would refuse to run with
	if cfg, err := config.Load(); err == nil {
		if verr := cfg.Validate(); verr != nil {
			return errors.Wrapf(verr, "value saved but configuration is now invalid")
		}
	}

	cliSuccess(fmt.Sprintf("Updated %s = %s", key, value))
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
	cliSuccess("Configuration is valid.")
	return nil
}
