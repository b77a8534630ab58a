package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/operatorlog/internal/operator"
	"github.com/jmerrifield20/operatorlog/pkg/signing"
)

// ── keygen ───────────────────────────────────────────────────────────────────

func (a *cli) keygenCmd() *cobra.Command {
	var (
		scheme string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key",
		Long: `keygen creates a new private key. With --out the key is written to that
file (mode 0600) and only the public key and key id are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := signing.GenerateKey(signing.Scheme(scheme))
			if err != nil {
				return err
			}

			result := map[string]string{
				"public_key": key.Public().String(),
				"key_id":     key.Public().Fingerprint().String(),
			}
			if out != "" {
				if err := os.WriteFile(out, []byte(key.String()+"\n"), 0o600); err != nil {
					return fmt.Errorf("write key: %w", err)
				}
				result["private_key_file"] = out
			} else {
				result["private_key"] = key.String()
			}
			return printValue(cmd.OutOrStdout(), "json", result)
		},
	}
	cmd.Flags().StringVar(&scheme, "scheme", string(signing.ECDSAP256), "Key scheme: ecdsa-p256 or ed25519")
	cmd.Flags().StringVar(&out, "out", "", "Write the private key to this file")
	return cmd
}

// ── encode ───────────────────────────────────────────────────────────────────

func (a *cli) encodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <draft.json|->",
		Short: "Encode a draft record canonically and print its record id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := readDraft(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			enc, err := operator.EncodeDraft(d)
			if err != nil {
				return codedError(err)
			}
			return printValue(cmd.OutOrStdout(), "json", enc)
		},
	}
}

// ── sign ─────────────────────────────────────────────────────────────────────

func (a *cli) signCmd() *cobra.Command {
	var (
		keyFile string
		useHead bool
		now     bool
	)
	cmd := &cobra.Command{
		Use:   "sign --key <file> <draft.json|->",
		Short: "Encode and sign a draft, printing the envelope",
		Long: `sign encodes a draft and signs it, printing an envelope ready for
'oplog append'.

  --head  fills prev from the server's current head when the draft has none
  --now   sets the timestamp to the current time`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyFile == "" {
				return fmt.Errorf("--key is required")
			}
			raw, err := os.ReadFile(keyFile)
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			key, err := signing.ParsePrivateKey(strings.TrimSpace(string(raw)))
			if err != nil {
				return err
			}

			d, err := readDraft(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if now {
				d.Timestamp = operator.TimestampOf(time.Now())
			}
			if useHead && d.Prev == "" {
				c, err := a.client()
				if err != nil {
					return err
				}
				head, err := c.Head(cmd.Context())
				if err != nil {
					return fmt.Errorf("fetch head: %w", err)
				}
				if head != nil {
					d.Prev = head.RecordID
				}
			}

			env, err := sign(key, d)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), "json", env)
		},
	}
	cmd.Flags().StringVar(&keyFile, "key", "", "Private key file from 'oplog keygen --out'")
	cmd.Flags().BoolVar(&useHead, "head", false, "Fill prev from the server head")
	cmd.Flags().BoolVar(&now, "now", false, "Use the current time as the record timestamp")
	return cmd
}

// sign encodes d and signs the prefixed content with key.
func sign(key *signing.PrivateKey, d operator.Draft) (*operator.Envelope, error) {
	enc, err := operator.EncodeDraft(d)
	if err != nil {
		return nil, codedError(err)
	}
	sig, err := key.Sign(operator.SigningPayload(enc.ContentBytes))
	if err != nil {
		return nil, fmt.Errorf("sign record: %w", err)
	}
	return &operator.Envelope{
		ContentBytes: enc.ContentBytes,
		KeyID:        key.Public().Fingerprint(),
		Signature:    sig.String(),
	}, nil
}

// ── decode ───────────────────────────────────────────────────────────────────

func (a *cli) decodeCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "decode <base64|file|->",
		Short: "Decode canonical record bytes into a draft",
		Long: `decode reads record bytes given as a base64 argument, or a file (or
stdin) holding base64 or raw bytes. An envelope JSON file is also accepted;
its content_bytes are decoded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var env operator.Envelope
			if json.Unmarshal(content, &env) == nil && len(env.ContentBytes) > 0 {
				content = env.ContentBytes
			}
			d, err := operator.DecodeDraft(content)
			if err != nil {
				return codedError(err)
			}
			return printValue(cmd.OutOrStdout(), format, d)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	return cmd
}

// codedError prefixes err with its stable name when it has one.
func codedError(err error) error {
	if code := operator.Code(err); code != "" {
		return fmt.Errorf("%s: %w", code, err)
	}
	return err
}
