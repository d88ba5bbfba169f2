package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osbits/statuswatch/internal/extract"
	"github.com/osbits/statuswatch/internal/snapshot"
)

func newExtractCmd() *cobra.Command {
	var (
		marker    string
		lookahead int
		minLength int
	)

	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Run the status extractor over a saved page (HTML or text)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("marker") {
				marker = cfg.Extract.Marker
			}
			if !cmd.Flags().Changed("lookahead") {
				lookahead = cfg.Extract.Lookahead
			}
			if !cmd.Flags().Changed("min-length") {
				minLength = cfg.Extract.MinLength
			}

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			text := string(raw)
			if looksLikeHTML(args[0], raw) {
				_, text, err = snapshot.VisibleText(bytes.NewReader(raw))
				if err != nil {
					return err
				}
			}

			status, ok := extract.New(marker, lookahead, minLength).Extract(text)
			if !ok {
				return errors.New("status not found")
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().StringVar(&marker, "marker", "", "Marker phrase preceding the status (defaults to the configured marker)")
	cmd.Flags().IntVar(&lookahead, "lookahead", extract.DefaultLookahead, "Lines scanned after the marker")
	cmd.Flags().IntVar(&minLength, "min-length", extract.DefaultMinLength, "Minimum status length in characters")
	return cmd
}

func looksLikeHTML(path string, raw []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("<"))
}
