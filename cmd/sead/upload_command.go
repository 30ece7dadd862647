package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sead/internal/app"
	"sead/internal/sip"
	"sead/internal/upload"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var (
		name          string
		mimeType      string
		manifestation string
		declared      []string
	)

	cmd := &cobra.Command{
		Use:   "upload <sip-id> <file>",
		Short: "Stage file content for a package",
		Long: `Stage a local file as content of a staged package.

The file's digests are computed while it is copied. Declared digests given with
--fixity ALGORITHM=VALUE must match or the upload is rejected.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixities, err := parseFixityFlags(declared)
			if err != nil {
				return err
			}
			path := args[1]
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open upload: %w", err)
			}
			defer file.Close()
			if strings.TrimSpace(name) == "" {
				name = filepath.Base(path)
			}

			return ctx.withApp(func(a *app.App) error {
				res, err := a.Uploads.Upload(cmd.Context(), upload.Request{
					SIPID:         args[0],
					Name:          name,
					MimeType:      mimeType,
					Manifestation: manifestation,
					Declared:      fixities,
					Body:          file,
				})
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, res)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Uploaded %s as file %s (%s)\n", res.File.Name, res.File.ID, humanize.IBytes(uint64(res.File.Size)))
				fmt.Fprintf(out, "  Reference: %s\n", res.Staged.ReferenceURI)
				for _, f := range res.File.Fixity {
					fmt.Fprintf(out, "  %-8s %s\n", f.Algorithm, f.Value)
				}
				if len(res.Skipped) > 0 {
					fmt.Fprintf(out, "  Unsupported digests skipped: %s\n", strings.Join(res.Skipped, ", "))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "File name recorded in the package (defaults to the base name)")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "MIME type of the content")
	cmd.Flags().StringVarP(&manifestation, "manifestation", "m", "", "Manifestation the file joins")
	cmd.Flags().StringArrayVar(&declared, "fixity", nil, "Declared digest as ALGORITHM=VALUE (repeatable)")
	return cmd
}

func parseFixityFlags(values []string) ([]sip.Fixity, error) {
	out := make([]sip.Fixity, 0, len(values))
	for _, value := range values {
		alg, digest, ok := strings.Cut(value, "=")
		alg = strings.TrimSpace(alg)
		digest = strings.TrimSpace(digest)
		if !ok || alg == "" || digest == "" {
			return nil, fmt.Errorf("invalid --fixity %q (want ALGORITHM=VALUE)", value)
		}
		out = append(out, sip.Fixity{Algorithm: alg, Value: digest})
	}
	return out, nil
}
