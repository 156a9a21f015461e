package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkforce/internal/bulkforce"
	"github.com/JonMunkholm/bulkforce/internal/split"
)

func newLoadCmd(g *globals) *cobra.Command {
	var (
		opts          bulkforce.LoadOptions
		file          string
		maxConcurrent int
		noArchive     bool
		showProgress  bool
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Insert, update, upsert or delete records from a CSV file",
		Long: `Splits the CSV file into batches of at most --max-batch-size rows, runs
them in one bulk job and prints the joined success and error rows as JSON.
With --to-path the sets are written to {path}/{object}_success.csv and
{path}/{object}_error.csv instead; an s3://bucket/prefix path writes to the
object store.`,
		Example: `  bulkforce load --action insert --object Account --file accounts.csv
  bulkforce load --action update --object Account --file a.csv --map-file a.yaml --to-path s3://results/run1`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if opts.MaxBatchSize == 0 {
				opts.MaxBatchSize = cfg.Bulk.MaxBatchSize
			}
			opts.ContentType = strings.ToUpper(opts.ContentType)

			appOpts := appOptions{maxConcurrent: maxConcurrent, noArchive: noArchive}
			if showProgress {
				appOpts.progress = func(p bulkforce.Progress) {
					fmt.Fprintf(cmd.ErrOrStderr(), "batches %d/%d done, %d failed\n", p.Done, p.Total, p.Failed)
				}
			}
			a, err := newApp(cmd.Context(), cfg, appOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.service.Load(a.context(cmd.Context()), opts, split.File(file))
			if res != nil {
				if printErr := printJSON(cmd.OutOrStdout(), res); printErr != nil {
					return errors.Join(err, printErr)
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Action, "action", "", "insert, update, upsert or delete")
	f.StringVar(&opts.Object, "object", "", "sObject name, e.g. Account")
	f.StringVar(&file, "file", "", "CSV input file with a header row")
	f.StringVar(&opts.ExternalField, "external-field", "", "external id field for upsert")
	f.IntVar(&opts.MaxBatchSize, "max-batch-size", 0, "rows per batch (default BULK_MAX_BATCH_SIZE)")
	f.StringVar(&opts.MapFile, "map-file", "", ".properties or .yaml field mapping")
	f.StringVar(&opts.ToPath, "to-path", "", "write result CSVs under this directory or s3:// prefix")
	f.StringVar(&opts.ContentType, "content-type", "", "job wire format, JSON (default) or CSV")
	f.IntVar(&maxConcurrent, "max-concurrent", -1, "batches in flight, 0 for unbounded (default BULK_MAX_CONCURRENT)")
	f.BoolVar(&noArchive, "no-archive", false, "do not archive results to DATABASE_URL")
	f.BoolVar(&showProgress, "progress", false, "report finished batches on stderr")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("object")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
