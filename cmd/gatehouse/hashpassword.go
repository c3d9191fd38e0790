// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
)

// newHashPasswordCmd creates the hash-password subcommand. The
// password is read from stdin so it never appears in argv or shell
// history.
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password for the config file",
		Long: `Read a password from stdin and print its argon2id PHC hash,
suitable for the identity.password_hash config key.

Example:
  gatehouse hash-password < password.txt`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return oops.Code("INPUT_FAILED").Wrapf(err, "reading password from stdin")
			}

			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return oops.Code("INPUT_FAILED").Errorf("password must not be empty")
			}

			hash, err := auth.NewArgon2idHasher().Hash(password)
			if err != nil {
				return err
			}

			cmd.Println(hash)
			return nil
		},
	}
}
