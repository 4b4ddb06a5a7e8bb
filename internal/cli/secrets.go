package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"trading-gateway/internal/api"
	"trading-gateway/pkg/crypto"
)

var encryptGenerateKey bool

var encryptCmd = &cobra.Command{
	Use:   "encrypt-secret [plaintext]",
	Short: "Seal a secret with $MASTER_ENCRYPTION_KEY as ENC[vN]:...",
	Long: `Encrypt-secret seals a value (read from the argument or stdin) with the
newest master key version, producing a value usable for DELTA_API_KEY or
DELTA_API_SECRET. Sealed values are re-sealed with the newest key.

With --generate-key it prints a fresh base64 master key instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncrypt,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for OPERATOR_PASSWORD_HASH",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := argOrStdin(cmd, args)
		if err != nil {
			return err
		}
		hash, err := api.HashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encryptCmd)
	rootCmd.AddCommand(hashPasswordCmd)

	encryptCmd.Flags().BoolVar(&encryptGenerateKey, "generate-key", false, "print a new base64 master key")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	if encryptGenerateKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	}

	kr, err := crypto.NewKeyring("MASTER_ENCRYPTION_KEY", os.Getenv)
	if err != nil {
		return err
	}
	plain, err := argOrStdin(cmd, args)
	if err != nil {
		return err
	}
	var sealed string
	if crypto.IsSealed(plain) {
		sealed, err = kr.ReEncrypt(plain)
	} else {
		sealed, err = kr.Encrypt(plain)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return nil
}

func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return "", fmt.Errorf("empty input")
	}
	return line, nil
}
