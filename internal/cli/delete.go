package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkforce/internal/csvutil"
	"github.com/JonMunkholm/bulkforce/internal/logging"
	"github.com/JonMunkholm/bulkforce/internal/rest"
)

// deleteSummary is printed after a delete.
type deleteSummary struct {
	Object    string `json:"object"`
	Requested int    `json:"requested"`
	Deleted   int    `json:"deleted"`
}

func newDeleteCmd(g *globals) *cobra.Command {
	var (
		object  string
		file    string
		ids     []string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete records by id through the REST API",
		Long: `Deletes records one request at a time, --workers at once. Ids come from
--id flags and from the id column (any case) of --file, typically the
success file of an earlier load. Every id is attempted; the first failure
is reported.`,
		Example: `  bulkforce delete --object Account --file out/Account_success.csv
  bulkforce delete --object Account --id 001A000001 --id 001A000002`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				rows, err := csvutil.ReadFile(file)
				if err != nil {
					return err
				}
				ids = append(ids, rest.IDs(rows)...)
			}
			if len(ids) == 0 {
				return errors.New("no record ids given (use --id or --file)")
			}

			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{maxConcurrent: -1, noArchive: true})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := a.context(cmd.Context())
			cred, err := a.auth.Login(ctx)
			if err != nil {
				return err
			}
			n, err := a.deleter(workers).DeleteRecords(ctx, cred, object, ids)
			if err != nil {
				logging.FromContext(ctx, a.logger).Warn("delete incomplete", "deleted", n, "requested", len(ids))
			}
			if printErr := printJSON(cmd.OutOrStdout(), deleteSummary{Object: object, Requested: len(ids), Deleted: n}); printErr != nil {
				return errors.Join(err, printErr)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&object, "object", "", "sObject name")
	f.StringVar(&file, "file", "", "CSV file with an id column")
	f.StringSliceVar(&ids, "id", nil, "record id (repeatable)")
	f.IntVar(&workers, "workers", rest.DefaultWorkers, "concurrent delete requests")
	_ = cmd.MarkFlagRequired("object")

	return cmd
}
