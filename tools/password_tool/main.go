package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"infracontrol/internal/manager"
	"infracontrol/internal/middleware"
	"infracontrol/internal/models"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const minPasswordLength = 8

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		username   string
		password   string
		role       string
	)

	cmd := &cobra.Command{
		Use:           "password_tool",
		Short:         "Reset or create an InfraControl account password",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(username) == "" {
				return errors.New("username cannot be empty")
			}
			pwd, err := resolvePassword(password, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("password error: %w", err)
			}
			created, path, err := setPassword(configPath, username, pwd, models.Role(role))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if created {
				fmt.Fprintf(out, "Created user %s with %s role.\n", username, role)
			} else {
				fmt.Fprintf(out, "Updated password for %s.\n", username)
			}
			fmt.Fprintf(out, "registry: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", manager.DefaultConfigFile, "Path to the registry file")
	cmd.Flags().StringVarP(&username, "username", "u", "admin", "Username to update or create")
	cmd.Flags().StringVar(&password, "password", "", "New password (leave blank to type securely)")
	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "Role assigned when the user is created")
	return cmd
}

// setPassword hashes pwd into the registry at configPath, creating the user
// when it does not exist yet.
func setPassword(configPath, username, pwd string, role models.Role) (bool, string, error) {
	path, err := filepath.Abs(strings.TrimSpace(configPath))
	if err != nil {
		return false, "", fmt.Errorf("unable to resolve config path: %w", err)
	}

	reg := manager.NewRegistry(path)
	if err := reg.Load(); err != nil {
		return false, path, fmt.Errorf("failed to load registry: %w", err)
	}

	hash, err := middleware.NewAuthService("").HashPassword(pwd)
	if err != nil {
		return false, path, fmt.Errorf("failed to hash password: %w", err)
	}

	err = reg.SetPasswordHash(username, hash)
	if errors.Is(err, manager.ErrNotFound) {
		if err := reg.AddUser(username, hash, role); err != nil {
			return false, path, fmt.Errorf("failed to create user: %w", err)
		}
		return true, path, nil
	}
	if err != nil {
		return false, path, fmt.Errorf("failed to update password: %w", err)
	}
	return false, path, nil
}

func resolvePassword(input string, in io.Reader, prompt io.Writer) (string, error) {
	if trimmed := strings.TrimSpace(input); trimmed != "" {
		if len(trimmed) < minPasswordLength {
			return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
		}
		return trimmed, nil
	}

	read := lineReader(in, prompt)
	first, err := read("Enter new password: ")
	if err != nil {
		return "", err
	}
	second, err := read("Confirm password: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	if len(first) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return first, nil
}

// lineReader reads hidden input from a terminal and plain lines otherwise.
func lineReader(in io.Reader, prompt io.Writer) func(label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return func(label string) (string, error) {
			fmt.Fprint(prompt, label)
			bytes, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(prompt)
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(string(bytes)), nil
		}
	}

	reader := bufio.NewReader(in)
	return func(label string) (string, error) {
		fmt.Fprint(prompt, label)
		text, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || text == "") {
			return "", err
		}
		return strings.TrimSpace(text), nil
	}
}
