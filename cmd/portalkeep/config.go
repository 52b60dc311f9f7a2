package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/portalkeep/portalkeep/internal/api"
	"github.com/portalkeep/portalkeep/internal/config"
	configstore "github.com/portalkeep/portalkeep/internal/config/store"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:           "config",
		Short:         "Inspect and edit the portal configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pathCmd := &cobra.Command{
		Use:           "path",
		Short:         "Print the configuration file path",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutputFormatter(cmd)
			path := config.GetPaths().Config
			if out.jsonMode {
				return out.Print(map[string]string{"path": path})
			}
			fmt.Println(path)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:           "show",
		Short:         "Show the active configuration (credentials omitted)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configShow,
	}

	reloadCmd := &cobra.Command{
		Use:           "reload",
		Short:         "Ask the daemon to re-read its configuration file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configReload,
	}

	setCredentialsCmd := &cobra.Command{
		Use:           "set-credentials",
		Short:         "Set the portal account username and password",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configSetCredentials,
	}
	setCredentialsCmd.Flags().String("username", "", "Portal account username (prompted when omitted)")

	editCmd := &cobra.Command{
		Use:           "edit",
		Short:         "Open the configuration file in $EDITOR",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configEdit,
	}

	setCmd := &cobra.Command{
		Use:           "set [setting] [value]",
		Short:         "Update a daemon setting (auto-reconnect, check-interval, periodic-login)",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configSet,
	}

	configCmd.AddCommand(pathCmd, showCmd, reloadCmd, setCredentialsCmd, editCmd, setCmd)
	return configCmd
}

func configShow(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	c := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	view, err := c.Config(ctx)
	if err != nil {
		return connectError(out, err)
	}

	if out.jsonMode {
		return out.Print(view)
	}

	printConfigView(view)
	return nil
}

func configReload(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	c := newClient()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	view, err := c.ReloadConfig(ctx)
	if err != nil {
		return connectError(out, err)
	}

	if out.jsonMode {
		return out.Print(view)
	}

	fmt.Println("Configuration reloaded")
	printConfigView(view)
	return nil
}

// configSetCredentials writes credentials straight into the configuration
// file. A running daemon picks the change up through its file watcher.
func configSetCredentials(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	paths, err := config.EnsureDirs()
	if err != nil {
		return out.Error("Failed to prepare home directory", err)
	}

	store, err := configstore.Open(paths.Config)
	if err != nil {
		return out.Error("Failed to open configuration", err)
	}

	username, _ := cmd.Flags().GetString("username")
	username = strings.TrimSpace(username)
	if username == "" {
		fmt.Print("Username: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return out.Error("Failed to read username", err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return out.Error("Username must not be empty", nil)
	}

	password, err := readPassword()
	if err != nil {
		return out.Error("Failed to read password", err)
	}
	if password == "" {
		return out.Error("Password must not be empty", nil)
	}

	cfg := store.Current().Clone()
	cfg.Login.Fields[config.FieldUsername] = username
	cfg.Login.Fields[config.FieldPassword] = password
	if err := store.Save(cfg); err != nil {
		return out.Error("Failed to save configuration", err)
	}

	return out.Success(fmt.Sprintf("Credentials saved for %s", username), map[string]any{
		"username": username,
		"path":     paths.Config,
	})
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !terminal.IsTerminal(fd) {
		// Piped input: read one line instead of disabling echo.
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Print("Password: ")
	secret, err := terminal.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(secret)), nil
}

func configEdit(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	paths, err := config.EnsureDirs()
	if err != nil {
		return out.Error("Failed to prepare home directory", err)
	}

	// Materialise the default template first so the editor has something to open.
	if _, err := configstore.Open(paths.Config); err != nil {
		return out.Error("Failed to open configuration", err)
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}

	edit := exec.Command(editor, paths.Config)
	edit.Stdin = os.Stdin
	edit.Stdout = os.Stdout
	edit.Stderr = os.Stderr
	if err := edit.Run(); err != nil {
		return out.Error(fmt.Sprintf("Editor %s failed", editor), err)
	}

	// Validate the result so broken YAML is caught right away.
	if _, err := configstore.Open(paths.Config); err != nil {
		return out.Error("Edited configuration does not parse", err)
	}

	return out.Success("Configuration updated", map[string]any{"path": paths.Config})
}

func configSet(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	setting, value := strings.ToLower(strings.TrimSpace(args[0])), strings.TrimSpace(args[1])

	c := newClient()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch setting {
	case "auto-reconnect":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return out.Error("Value must be true or false", err)
		}
		if err := c.SetAutoReconnect(ctx, enabled); err != nil {
			return connectError(out, err)
		}
		return out.Success(fmt.Sprintf("Auto-reconnect turned %s", onOff(enabled)), map[string]any{
			"enabled": enabled,
		})

	case "check-interval":
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return out.Error("Value must be a number of seconds", err)
		}
		if err := c.SetCheckInterval(ctx, seconds); err != nil {
			return connectError(out, err)
		}
		return out.Success(fmt.Sprintf("Check interval set to %ds", seconds), map[string]any{
			"seconds": seconds,
		})

	case "periodic-login":
		seconds, err := strconv.Atoi(value)
		if err != nil {
			return out.Error("Value must be a number of seconds (0 disables)", err)
		}
		if err := c.SetPeriodicLoginInterval(ctx, seconds); err != nil {
			return connectError(out, err)
		}
		msg := fmt.Sprintf("Periodic login set to every %ds", seconds)
		if seconds == 0 {
			msg = "Periodic login disabled"
		}
		return out.Success(msg, map[string]any{"seconds": seconds})

	default:
		return out.Error(fmt.Sprintf("Unknown setting %q (expected auto-reconnect, check-interval or periodic-login)", setting), nil)
	}
}

func printConfigView(view *api.ConfigView) {
	fmt.Printf("Configuration (%s):\n", view.Path)
	fmt.Printf("  Login URL:       %s\n", view.LoginURL)
	if view.CredentialsConfigured {
		fmt.Printf("  Account:         %s\n", view.Username)
	} else {
		fmt.Printf("  Account:         not configured\n")
	}
	fmt.Printf("  Headers:         %d\n", view.HeaderCount)
	auto := onOff(view.AutoReconnect)
	if view.ForcedAutoReconnect {
		auto = "on (forced)"
	}
	fmt.Printf("  Auto-reconnect:  %s\n", auto)
	fmt.Printf("  Check interval:  %ds\n", view.CheckInterval)
	fmt.Printf("  Probe URL:       %s\n", view.ProbeURL)
	fmt.Printf("  Probe timeout:   %.1fs\n", view.ProbeTimeout)
	if view.PeriodicLoginInterval > 0 {
		fmt.Printf("  Periodic login:  every %ds\n", view.PeriodicLoginInterval)
	} else {
		fmt.Printf("  Periodic login:  off\n")
	}
}
