package main

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/ent0n29/imsgrelay/internal/reply"
)

func newChunkCmd() *cobra.Command {
	var maxChars int
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Split stdin into reply parts the way the relay would",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			parts := reply.Chunk(string(data), maxChars)
			out := cmd.OutOrStdout()
			if len(parts) == 0 {
				fmt.Fprintln(out, warningStyle.Render("input is blank; nothing would be sent"))
				return nil
			}
			for _, p := range parts {
				header := fmt.Sprintf("--- part %d/%d (%d chars) ---", p.Index, p.Total, utf8.RuneCountInString(p.Text))
				fmt.Fprintln(out, infoStyle.Render(header))
				fmt.Fprintln(out, p.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxChars, "max", 1600, "maximum characters per part")
	return cmd
}
