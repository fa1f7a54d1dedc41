package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"postage/internal/address"
	"postage/internal/platform/config"
	"postage/internal/proof"
	"postage/internal/records"
	"postage/pkg/domain"
)

// keyFile is the on-disk form written by keygen and read by sign.
type keyFile struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

var (
	keygenOut string

	deriveProgram string
	deriveKind    string
	deriveKey     string
	deriveSeq     uint64

	signKeyPath  string
	signMethod   string
	signPath     string
	signBody     string
	signLifetime time.Duration
)

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "write the key file here instead of stdout")

	deriveCmd.Flags().StringVar(&deriveProgram, "program", config.DefaultProgramID, "program id the addresses are derived under")
	deriveCmd.Flags().StringVar(&deriveKind, "kind", "profile", "one of config, profile, message, message-at, message-log, vault, admin-vault")
	deriveCmd.Flags().StringVar(&deriveKey, "key", "", "owner or sender public key (base58)")
	deriveCmd.Flags().Uint64Var(&deriveSeq, "seq", 0, "sequence number for log-mode messages")

	signCmd.Flags().StringVarP(&signKeyPath, "key", "k", "", "key file produced by keygen")
	signCmd.Flags().StringVarP(&signMethod, "method", "X", "POST", "HTTP method of the request")
	signCmd.Flags().StringVarP(&signPath, "path", "p", "", "request path, e.g. /v1/users")
	signCmd.Flags().StringVarP(&signBody, "data", "d", "", "exact request body")
	signCmd.Flags().DurationVar(&signLifetime, "lifetime", time.Minute, "proof lifetime (at most 5m)")
	_ = signCmd.MarkFlagRequired("key")
	_ = signCmd.MarkFlagRequired("path")

	rootCmd.AddCommand(keygenCmd, deriveCmd, signCmd)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ed25519 key pair",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if keygenOut == "" {
			_, err := generateKey(cmd.OutOrStdout())
			return err
		}
		f, err := os.OpenFile(keygenOut, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		defer f.Close()
		pub, err := generateKey(f)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pub)
		return nil
	},
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Print the address and bump of a record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, bump, err := deriveAddress(deriveProgram, deriveKind, deriveKey, deriveSeq)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", addr, bump)
		return nil
	},
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Print a proof token for one request",
	Long: `sign prints the value to send as "Authorization: Proof <token>".
The token is bound to the method, path and body, so pass the body exactly as
it will be sent.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		key, err := loadKey(signKeyPath)
		if err != nil {
			return err
		}
		token, err := proof.Sign(key, signMethod, signPath, []byte(signBody), signLifetime, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// generateKey writes a fresh key file to w and returns the public key.
func generateKey(w io.Writer) (domain.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return domain.PublicKey{}, err
	}
	key, err := domain.PublicKeyFromBytes(pub)
	if err != nil {
		return domain.PublicKey{}, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(keyFile{PublicKey: key.String(), PrivateKey: base58.Encode(priv)}); err != nil {
		return domain.PublicKey{}, err
	}
	return key, nil
}

func loadKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseKeyFile(data)
}

func parseKeyFile(data []byte) (ed25519.PrivateKey, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	raw, err := base58.Decode(kf.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(raw)
	if kf.PublicKey != "" {
		want, err := domain.ParsePublicKey(kf.PublicKey)
		if err != nil {
			return nil, err
		}
		got, _ := domain.PublicKeyFromBytes(priv.Public().(ed25519.PublicKey))
		if got != want {
			return nil, errors.New("public key does not match private key")
		}
	}
	return priv, nil
}

func deriveAddress(program, kind, key string, seq uint64) (domain.Address, uint8, error) {
	programID, err := domain.ParseAddress(program)
	if err != nil {
		return domain.Address{}, 0, fmt.Errorf("program id: %w", err)
	}
	addrs := records.NewAddresses(address.New(programID))

	switch kind {
	case "config":
		return addrs.Config()
	case "vault":
		return addrs.Vault()
	case "admin-vault":
		return addrs.AdminVault()
	}

	owner, err := domain.ParsePublicKey(key)
	if err != nil {
		return domain.Address{}, 0, fmt.Errorf("key: %w", err)
	}
	switch kind {
	case "profile":
		return addrs.Profile(owner)
	case "message":
		return addrs.Message(owner)
	case "message-at":
		return addrs.MessageAt(owner, seq)
	case "message-log":
		return addrs.MessageLog(owner)
	default:
		return domain.Address{}, 0, fmt.Errorf("unknown kind %q", kind)
	}
}
