package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/operatorlog/internal/operator"
)

// printValue writes v to w as indented JSON or as YAML.
func printValue(w io.Writer, format string, v any) error {
	switch format {
	case "json", "":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}

// readInput reads path, or stdin when path is "-".
func readInput(in io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(path)
}

// readDraft parses a draft file. YAML is a superset of JSON, so both forms
// are accepted.
func readDraft(in io.Reader, path string) (operator.Draft, error) {
	var d operator.Draft
	b, err := readInput(in, path)
	if err != nil {
		return d, err
	}
	if err := yaml.Unmarshal(b, &d); err != nil {
		return d, fmt.Errorf("parse draft %s: %w", path, err)
	}
	return d, nil
}

// readContent resolves a decode argument: a file holding base64 or raw
// bytes, or a base64 string.
func readContent(in io.Reader, arg string) ([]byte, error) {
	if arg == "-" || fileExists(arg) {
		b, err := readInput(in, arg)
		if err != nil {
			return nil, err
		}
		if dec, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b))); err == nil {
			return dec, nil
		}
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(arg))
	if err != nil {
		return nil, fmt.Errorf("%q is neither a file nor base64: %w", arg, err)
	}
	return b, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
