package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quantumlife/lifeops/internal/signing"
)

const minPassphrase = 8

// keyFile is the default location of the sealed signing keys
func keyFile() string {
	return filepath.Join(dataDir, "keys.json")
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage impact plan signing keys",
	}
	cmd.AddCommand(keysInitCmd())
	cmd.AddCommand(keysShowCmd())
	return cmd
}

func keysInitCmd() *cobra.Command {
	var (
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate an Ed25519 + ML-DSA-65 key pair sealed with a passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = keyFile()
			}
			if _, err := os.Stat(out); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to replace it)", out)
			}

			w := cmd.OutOrStdout()
			passphrase, err := askPassphrase(w)
			if err != nil {
				return err
			}

			fmt.Fprintln(w, SubtleStyle.Render("Generating keys..."))
			kp, err := signing.Generate()
			if err != nil {
				return err
			}
			bundle, err := kp.Seal(passphrase)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0700); err != nil {
				return err
			}
			if err := bundle.Save(out); err != nil {
				return err
			}

			fmt.Fprintln(w, SuccessStyle.Render("Keys created"))
			fmt.Fprintf(w, "  key id  %s\n", kp.ID())
			fmt.Fprintf(w, "  file    %s\n", out)
			fmt.Fprintln(w)
			fmt.Fprintln(w, SubtleStyle.Render("Set signing.key_file and signing.passphrase for lifeopsd to sign previews."))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default <data-dir>/keys.json)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func keysShowCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the public key id of a key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = keyFile()
			}
			bundle, err := signing.LoadBundle(path)
			if err != nil {
				return err
			}
			pub, err := bundle.PublicKeys()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pub.ID())
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "key file (default <data-dir>/keys.json)")
	return cmd
}

// askPassphrase reads a new passphrase twice from the terminal
func askPassphrase(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("a terminal is required to enter the passphrase")
	}

	fmt.Fprintf(w, "Passphrase (min %d chars): ", minPassphrase)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if err := checkPassphrase(string(first), ""); err != nil {
		return "", err
	}

	fmt.Fprint(w, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if err := checkPassphrase(string(first), string(second)); err != nil {
		return "", err
	}
	return string(first), nil
}

// checkPassphrase validates length, and equality once confirm is given
func checkPassphrase(p, confirm string) error {
	if len(p) < minPassphrase {
		return fmt.Errorf("passphrase must be at least %d characters", minPassphrase)
	}
	if confirm != "" && p != confirm {
		return errors.New("passphrases don't match")
	}
	return nil
}
