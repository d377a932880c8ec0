package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrEthical07/authority/token"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing key pair",
		Long: `Generate an Ed25519 key pair as PEM files. Point token.private_key_file and
token.public_key_file at them.`,
		RunE: runKeygen,
	}
	cmd.Flags().String("out-dir", ".", "Directory to write signing.pem and signing.pub.pem to")
	return cmd
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("out-dir")
	priv, pub, err := token.GenerateEd25519PEM()
	if err != nil {
		return err
	}

	privPath := filepath.Join(dir, "signing.pem")
	pubPath := filepath.Join(dir, "signing.pub.pem")
	if err := writeNew(privPath, priv, 0o600); err != nil {
		return err
	}
	if err := writeNew(pubPath, pub, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n", privPath, pubPath)
	return nil
}

// writeNew refuses to overwrite an existing key.
func writeNew(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
