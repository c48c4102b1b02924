package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	sa "github.com/panyam/secretauth"
	"github.com/panyam/secretauth/internal/config"
)

func useraddCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "useradd <username>",
		Short: "Create a local user",
		Long: `Create a local user with a password read from the terminal, or
from the first line of stdin when it is not a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			log := cfg.NewLogger(cmd.ErrOrStderr())

			password, err := readPassword(cmd.ErrOrStderr(), os.Stdin)
			if err != nil {
				return err
			}

			b, err := openBackend(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()

			auth := newAuth(cfg, b, log)
			identity, err := auth.Local.Register(cmd.Context(), args[0], password)
			var authErr *sa.AuthError
			switch {
			case errors.As(err, &authErr):
				return errors.New(authErr.Message)
			case errors.Is(err, sa.ErrDuplicateUsername):
				return fmt.Errorf("username %q is already taken", args[0])
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", identity.Username, identity.ID)
			return nil
		},
	}
}

// readPassword prompts without echo on a terminal and reads a line otherwise
func readPassword(prompt io.Writer, in *os.File) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
