package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/types"
)

var (
	installForce      bool
	installInitConfig bool
	installBinPath    string
)

// shimMarker identifies hook files vahti owns. Uninstall refuses to
// touch anything without it.
const shimMarker = "# managed by vahti"

var managedHooks = []types.HookType{
	types.HookPrePush,
	types.HookPreCommit,
	types.HookPostCheckout,
	types.HookRefTx,
}

// installCmd represents the install command
var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the hook shims into this repository",
	Long: `Install vahti's hook shims into .git/hooks.

Four hooks are installed: pre-push, pre-commit, post-checkout and
reference-transaction. Each shim execs "vahti hook <type>" with git's
arguments and stdin forwarded.

Existing hooks that vahti does not own are backed up before being
replaced, and only when --force is given.`,
	Example: `  vahti install
  vahti install --force          # Replace foreign hooks (backed up first)
  vahti install --init-config    # Also write a starter .vahti.yaml`,
	RunE: runInstall,
}

// uninstallCmd represents the uninstall command
var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the hook shims from this repository",
	Long: `Remove vahti's hook shims from .git/hooks.

Only files carrying the vahti marker are removed; foreign hooks and
backups are left alone. Local state (audit log, history, cache) is
kept.`,
	RunE: runUninstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)

	installCmd.Flags().BoolVar(&installForce, "force", false, "Replace existing foreign hooks (a backup is kept)")
	installCmd.Flags().BoolVar(&installInitConfig, "init-config", false, "Write a starter .vahti.yaml if none exists")
	installCmd.Flags().StringVar(&installBinPath, "bin-path", "", "Binary path to embed in the shims (default: this executable)")
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, root, err := openRepo(ctx)
	if err != nil {
		return err
	}
	gitDir, err := repo.GitDir(ctx)
	if err != nil {
		return fmt.Errorf("locate git dir: %w", err)
	}

	bin := installBinPath
	if bin == "" {
		if exe, err := os.Executable(); err == nil {
			bin = exe
		} else {
			bin = "vahti"
		}
	}

	hooksDir := filepath.Join(gitDir, "hooks")
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return fmt.Errorf("create hooks dir: %w", err)
	}

	fmt.Println("Installing vahti hooks")
	fmt.Println()
	for _, hookType := range managedHooks {
		path := filepath.Join(hooksDir, string(hookType))
		replaced, err := writeShim(path, bin, hookType)
		if err != nil {
			return err
		}
		switch {
		case replaced != "":
			fmt.Printf("   %-22s installed (previous hook saved as %s)\n", hookType, filepath.Base(replaced))
		default:
			fmt.Printf("   %-22s installed\n", hookType)
		}
	}

	if installInitConfig {
		if err := writeStarterConfig(root); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Printf("Protected operations now go through %s\n", bin)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, _, err := openRepo(ctx)
	if err != nil {
		return err
	}
	gitDir, err := repo.GitDir(ctx)
	if err != nil {
		return fmt.Errorf("locate git dir: %w", err)
	}

	fmt.Println("Removing vahti hooks")
	fmt.Println()
	for _, hookType := range managedHooks {
		path := filepath.Join(gitDir, "hooks", string(hookType))
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			fmt.Printf("   %-22s not installed\n", hookType)
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !strings.Contains(string(data), shimMarker) {
			fmt.Printf("   %-22s skipped (not managed by vahti)\n", hookType)
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		fmt.Printf("   %-22s removed\n", hookType)
	}
	fmt.Println()
	fmt.Println("Local audit log, history and cache were kept")
	return nil
}

// writeShim installs one hook file. Returns the backup path when a
// foreign hook had to be moved aside.
func writeShim(path, bin string, hookType types.HookType) (string, error) {
	var backup string
	if existing, err := os.ReadFile(path); err == nil {
		if !strings.Contains(string(existing), shimMarker) {
			if !installForce {
				return "", fmt.Errorf("%s already has a hook not managed by vahti, re-run with --force to replace it", hookType)
			}
			backup = fmt.Sprintf("%s.backup.%s", path, time.Now().Format("20060102-150405"))
			if err := os.WriteFile(backup, existing, 0o755); err != nil {
				return "", fmt.Errorf("back up %s: %w", path, err)
			}
		}
	}

	shim := fmt.Sprintf(`#!/bin/sh
%s
exec %q hook %s "$@"
`, shimMarker, bin, hookType)
	if err := os.WriteFile(path, []byte(shim), 0o755); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return backup, nil
}

// writeStarterConfig materializes the defaults as .vahti.yaml so teams
// have something concrete to edit.
func writeStarterConfig(root string) error {
	path := filepath.Join(root, ".vahti.yaml")
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("   %-22s already exists, left untouched\n", ".vahti.yaml")
		return nil
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("render default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("   %-22s written\n", ".vahti.yaml")
	return nil
}
