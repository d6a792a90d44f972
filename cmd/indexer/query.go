package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"stakedex-indexer-sol/internal/logic/core"
	"stakedex-indexer-sol/internal/store"
	"stakedex-indexer-sol/internal/types"
)

func runQuery(c *cli.Context) error {
	return queryTo(c, os.Stdout)
}

func queryTo(c *cli.Context, w io.Writer) error {
	filter, err := buildFilter(c)
	if err != nil {
		return err
	}

	s, err := store.Open(c.Context, c.String("db"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	if c.Bool("count") {
		n, err := s.Count(c.Context)
		if err != nil {
			return fmt.Errorf("failed to count invocations: %w", err)
		}
		_, err = fmt.Fprintln(w, n)
		return err
	}

	rows, err := s.List(c.Context, filter)
	if err != nil {
		return fmt.Errorf("failed to list invocations: %w", err)
	}
	return writeInvocations(w, c.String("format"), rows)
}

func buildFilter(c *cli.Context) (store.Filter, error) {
	f := store.Filter{
		FromSlot: c.Uint64("from-slot"),
		ToSlot:   c.Uint64("to-slot"),
		Limit:    c.Int("limit"),
		Newest:   c.Bool("newest"),
	}
	if v := c.String("sig"); v != "" {
		sig, err := types.SignatureFromBase58(v)
		if err != nil {
			return f, fmt.Errorf("invalid --sig: %w", err)
		}
		f.Signature = &sig
	}
	if v := c.String("signer"); v != "" {
		pk, err := types.TryPubkeyFromBase58(v)
		if err != nil {
			return f, fmt.Errorf("invalid --signer: %w", err)
		}
		f.Signer = &pk
	}
	if v := c.String("mint"); v != "" {
		pk, err := types.TryPubkeyFromBase58(v)
		if err != nil {
			return f, fmt.Errorf("invalid --mint: %w", err)
		}
		f.Mint = &pk
	}
	if v := c.String("kind"); v != "" {
		kind, err := core.ParseInstructionKind(v)
		if err != nil {
			return f, err
		}
		f.Kind = &kind
	}
	return f, nil
}

func writeInvocations(w io.Writer, format string, rows []*core.Invocation) error {
	if rows == nil {
		rows = []*core.Invocation{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rows); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
