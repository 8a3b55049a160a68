// ABOUTME: Config CLI commands
// ABOUTME: Writes a default config file and shows the effective settings
package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/deangilmoreremix/update3.0-new-sub002/config"
)

// ConfigCommand dispatches "config <init|show|path>" for the config file at path.
func ConfigCommand(path string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: config <init|show|path>")
	}

	switch args[0] {
	case "init":
		return configInit(path, args[1:])
	case "show":
		return configShow(path)
	case "path":
		fmt.Println(path)
		return nil
	default:
		return fmt.Errorf("unknown config command: %s", args[0])
	}
}

func configInit(path string, args []string) error {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing config file")
	_ = fs.Parse(args)

	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Printf("✓ Wrote default config to %s\n", path)
	return nil
}

func configShow(path string) error {
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return err
	}
	if cfg.Insight.APIKey != "" {
		cfg.Insight.APIKey = "********"
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
