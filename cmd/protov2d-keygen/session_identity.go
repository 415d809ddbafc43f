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

var sessionIdentityOutput string

var sessionIdentityCmd = &cobra.Command{
	Use:   "session-identity",
	Short: "Generate a client session identity (Ed25519 + Dilithium5)",
	Long: `Generates the client's per-session signing keypair. A client that
wants a reconnect to resume the same sessionID across process
restarts must persist this output and feed it back into its
ClientConfig's session_private_key/session_public_key fields; a
client that doesn't care about resuming across restarts can skip
this and let protov2d-client generate one on the fly.`,
	RunE: runSessionIdentity,
}

func init() {
	rootCmd.AddCommand(sessionIdentityCmd)
	sessionIdentityCmd.Flags().StringVarP(&sessionIdentityOutput, "output", "o", "", "Output file (default: stdout)")
}

type sessionIdentityOutputJSON struct {
	SessionPrivateKeyHex string `json:"session_private_key"`
	SessionPublicKeyHex  string `json:"session_public_key"`
}

func runSessionIdentity(cmd *cobra.Command, args []string) error {
	id, err := handshake.GenerateSessionIdentity()
	if err != nil {
		return fmt.Errorf("generate session identity: %w", err)
	}

	pqPriv := make([]byte, cryptoprim.DilithiumPrivateKeySize)
	id.PQPriv.Pack(pqPriv)
	privHex := wire.ToHex(wire.Concat(id.ClassicPriv, pqPriv))
	pubHex := wire.ToHex(id.WireBytes())

	out := sessionIdentityOutputJSON{SessionPrivateKeyHex: privHex, SessionPublicKeyHex: pubHex}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session identity: %w", err)
	}
	data = append(data, '\n')

	if sessionIdentityOutput == "" {
		fmt.Print(string(data))
		return nil
	}
	if err := os.WriteFile(sessionIdentityOutput, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", sessionIdentityOutput, err)
	}
	fmt.Printf("Session identity written to: %s\n", sessionIdentityOutput)
	return nil
}
