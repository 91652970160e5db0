package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/cadastre-match/internal/match"
	"github.com/cadastre-match/internal/normalize"
	"github.com/cadastre-match/internal/validation"
)

// matchOutput is what the match command prints for each result
type matchOutput struct {
	match.MatchResult `yaml:",inline"`
	Explanation       *match.Explanation `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

func createMatchCmd(a *app) *cobra.Command {
	var (
		municipality string
		address      string
		references   string
		explain      bool
		format       string
	)

	cmd := &cobra.Command{
		Use:   "match [record.json]",
		Short: "Score a source record against the reference dataset",
		Long: `Read a source record as JSON from a file, or from stdin when no file is given,
and print its surfaced matches. Nothing is written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return errors.Wrapf(err, "open %s", args[0])
				}
				defer f.Close()
				in = f
			}
			source, err := readSource(in)
			if err != nil {
				return err
			}

			if address != "" && source.StreetName == "" {
				c := normalize.NewParser().Parse(address)
				source.StreetName, source.StreetNumber = c.StreetName, c.StreetNumber
				source.Complement, source.Neighborhood = c.Complement, c.Neighborhood
			}

			clean, issues := validation.NewSanitizer().Sanitize(source.PropertyFields)
			for _, is := range issues {
				a.logger.Warn("Ignoring malformed field", zap.String("field", is.Field), zap.String("reason", is.Reason))
			}
			source.PropertyFields = clean

			var reader match.ReferenceReader
			if references != "" {
				mem, err := a.seedMemory(ctx, references, "")
				if err != nil {
					return err
				}
				reader = mem
			} else {
				store, err := a.postgresStore(ctx)
				if err != nil {
					return err
				}
				reader = store
			}

			engine, err := a.engine(reader, nil)
			if err != nil {
				return err
			}
			results, err := engine.FindMatches(ctx, source, municipality)
			if err != nil {
				return err
			}

			out := make([]matchOutput, len(results))
			for i, r := range results {
				out[i].MatchResult = r
				if explain {
					exp := engine.Explain(r)
					out[i].Explanation = &exp
				}
			}
			return printOutput(cmd.OutOrStdout(), format, out)
		},
	}

	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "Municipality to search (required)")
	cmd.Flags().StringVar(&address, "address", "", "Free-text address used when the record has no street")
	cmd.Flags().StringVar(&references, "references", "", "Match against this reference CSV instead of the database")
	cmd.Flags().BoolVar(&explain, "explain", false, "Include the per-field score breakdown")
	cmd.Flags().StringVarP(&format, "output", "o", "json", "Output format: json or yaml")
	cmd.MarkFlagRequired("municipality")
	return cmd
}

func createClassifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [score]",
		Short: "Print the confidence tier of a score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[0], 64)
			if err != nil || score < 0 || score > 1 {
				return fmt.Errorf("score must be a number in [0, 1], got %q", args[0])
			}
			engine, err := a.engine(nil, nil)
			if err != nil {
				return err
			}
			tiers := engine.Tiers()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (auto-apply eligible: %t)\n", tiers.Classify(score), tiers.AutoApplyEligible(score))
			return nil
		},
	}
}

func readSource(r io.Reader) (match.SourceRecord, error) {
	var source match.SourceRecord
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&source); err != nil {
		return source, errors.Wrap(err, "decode source record")
	}
	return source, nil
}

func printOutput(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
