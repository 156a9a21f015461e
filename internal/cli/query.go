package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
)

func newQueryCmd(g *globals) *cobra.Command {
	var (
		opts      bulkforce.QueryOptions
		soql      string
		noArchive bool
	)

	cmd := &cobra.Command{
		Use:   "query [soql]",
		Short: "Extract records with a SOQL query",
		Long: `Runs the query as a bulk query job and prints the records as JSON, with
the record id under "id". With --to-file the records are written as CSV and
only the count is printed.`,
		Example: `  bulkforce query --object Account "SELECT Id, Name FROM Account"
  bulkforce query --object Account --soql "SELECT Id FROM Account" --to-file accounts.csv`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				soql = args[0]
			}
			if soql == "" {
				return errors.New("a SOQL query is required (argument or --soql)")
			}

			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{maxConcurrent: -1, noArchive: noArchive})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service.Query(a.context(cmd.Context()), opts, soql)
			if res != nil {
				if printErr := printJSON(cmd.OutOrStdout(), res); printErr != nil {
					return errors.Join(err, printErr)
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Object, "object", "", "sObject the query selects from")
	f.StringVar(&soql, "soql", "", "SOQL query")
	f.StringVar(&opts.ToFile, "to-file", "", "write records as CSV to this path or s3:// URL")
	f.BoolVar(&noArchive, "no-archive", false, "do not archive results to DATABASE_URL")
	_ = cmd.MarkFlagRequired("object")

	return cmd
}
