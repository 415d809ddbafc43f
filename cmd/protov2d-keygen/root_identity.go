package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/protov2d/cryptoprim"
	"github.com/sage-x-project/protov2d/handshake"
	"github.com/sage-x-project/protov2d/wire"
)

var rootIdentityOutput string

var rootIdentityCmd = &cobra.Command{
	Use:   "root-identity",
	Short: "Generate a server root identity (Ed25519 + Dilithium5)",
	Example: `  # Generate a root identity and print it as JSON
  protov2d-keygen root-identity

  # Write it straight into a server config's key fields
  protov2d-keygen root-identity --output root.json`,
	RunE: runRootIdentity,
}

func init() {
	rootCmd.AddCommand(rootIdentityCmd)
	rootIdentityCmd.Flags().StringVarP(&rootIdentityOutput, "output", "o", "", "Output file (default: stdout)")
}

// rootIdentityOutputJSON is the on-disk shape consumed directly by
// config.ServerConfig's root_private_key/root_public_key fields.
type rootIdentityOutputJSON struct {
	RootPrivateKeyHex string `json:"root_private_key"`
	RootPublicKeyHex  string `json:"root_public_key"`
}

func runRootIdentity(cmd *cobra.Command, args []string) error {
	id, err := handshake.GenerateRootIdentity()
	if err != nil {
		return fmt.Errorf("generate root identity: %w", err)
	}

	pqPriv := make([]byte, cryptoprim.DilithiumPrivateKeySize)
	id.PQPriv.Pack(pqPriv)
	privHex := wire.ToHex(wire.Concat(id.ClassicPriv, pqPriv))
	pubHex := wire.ToHex(id.PublicBytes())

	out := rootIdentityOutputJSON{RootPrivateKeyHex: privHex, RootPublicKeyHex: pubHex}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal root identity: %w", err)
	}
	data = append(data, '\n')

	if rootIdentityOutput == "" {
		fmt.Print(string(data))
		return nil
	}
	if err := os.WriteFile(rootIdentityOutput, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", rootIdentityOutput, err)
	}
	fmt.Printf("Root identity written to: %s\n", rootIdentityOutput)
	return nil
}
