// ABOUTME: CLI commands for charm KV sync of the deal backend
// ABOUTME: Link, status, manual sync, auto-sync toggle and wipe

package charm

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// SyncCommand dispatches "sync <subcommand>".
func SyncCommand(args []string) error {
	if len(args) == 0 {
		printSyncUsage(os.Stdout)
		return nil
	}

	switch args[0] {
	case "link":
		return SyncLinkCommand(args[1:])
	case "status":
		return SyncStatusCommand(args[1:])
	case "now":
		return SyncNowCommand(args[1:])
	case "auto":
		return SetAutoSyncCommand(args[1:])
	case "wipe":
		return SyncWipeCommand(args[1:])
	default:
		printSyncUsage(os.Stderr)
		return fmt.Errorf("unknown sync command: %s", args[0])
	}
}

func printSyncUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pipeline sync <link|status|now|auto|wipe>")
}

// SyncLinkCommand links this device to a charm account using its SSH key.
func SyncLinkCommand(args []string) error {
	fs := flag.NewFlagSet("sync link", flag.ExitOnError)
	_ = fs.Parse(args)

	c, err := GetClient()
	if err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}

	fmt.Printf("Linking to Charm Cloud (%s)...\n\n", c.Config().Host)

	if err := c.Sync(); err != nil {
		return fmt.Errorf("link failed: %w", err)
	}

	id, err := c.ID()
	if err != nil {
		fmt.Println("✓ Device linked (ID unavailable)")
	} else {
		fmt.Printf("✓ Linked to account: %s\n", id)
	}
	fmt.Printf("✓ Auto-sync: %v\n", c.Config().AutoSync)

	return nil
}

// SyncStatusCommand shows the sync configuration and how many deals are stored.
func SyncStatusCommand(args []string) error {
	fs := flag.NewFlagSet("sync status", flag.ExitOnError)
	_ = fs.Parse(args)

	c, err := GetClient()
	if err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}

	return writeSyncStatus(os.Stdout, c)
}

func writeSyncStatus(w io.Writer, c *Client) error {
	cfg := c.Config()
	fmt.Fprintln(w, "Charm Sync Status")
	fmt.Fprintln(w, "─────────────────")
	fmt.Fprintf(w, "Server:    %s\n", cfg.Host)
	fmt.Fprintf(w, "Auto-sync: %v\n", cfg.AutoSync)

	if id, err := c.ID(); err != nil {
		fmt.Fprintln(w, "Status:    Not connected")
	} else {
		fmt.Fprintf(w, "Status:    Connected\nID:        %s\n", id)
	}

	keys, err := c.KeysWithPrefix([]byte(dealPrefix))
	if err != nil {
		return fmt.Errorf("failed to count deals: %w", err)
	}
	fmt.Fprintf(w, "Deals:     %d\n", len(keys))

	return nil
}

// SyncNowCommand performs an immediate sync.
func SyncNowCommand(args []string) error {
	fs := flag.NewFlagSet("sync now", flag.ExitOnError)
	_ = fs.Parse(args)

	c, err := GetClient()
	if err != nil {
		return fmt.Errorf("failed to get client: %w", err)
	}
	if err := c.Sync(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Println("✓ Synced")
	return nil
}

// SetAutoSyncCommand enables or disables auto-sync.
func SetAutoSyncCommand(args []string) error {
	fs := flag.NewFlagSet("sync auto", flag.ExitOnError)
	enable := fs.Bool("enable", false, "Enable auto-sync")
	disable := fs.Bool("disable", false, "Disable auto-sync")
	_ = fs.Parse(args)

	if *enable == *disable {
		fmt.Println("Usage: pipeline sync auto --enable|--disable")
		return nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.SetAutoSync(*enable); err != nil {
		return fmt.Errorf("failed to save auto-sync: %w", err)
	}

	if *enable {
		fmt.Println("✓ Auto-sync enabled")
	} else {
		fmt.Println("✓ Auto-sync disabled")
	}
	return nil
}

// SyncWipeCommand deletes all local deal data.
func SyncWipeCommand(args []string) error {
	fs := flag.NewFlagSet("sync wipe", flag.ExitOnError)
	confirm := fs.Bool("confirm", false, "Confirm data wipe")
	_ = fs.Parse(args)

	if !*confirm {
		fmt.Println("WARNING: This will delete ALL local deals!")
		fmt.Println("To confirm, run: pipeline sync wipe --confirm")
		return nil
	}

	c, err := GetClient()
	if err != nil {
		return fmt.Errorf("failed to get client: %w", err)
	}
	if err := c.Reset(); err != nil {
		return fmt.Errorf("failed to reset KV store: %w", err)
	}

	fmt.Println("✓ All data wiped")
	return nil
}
