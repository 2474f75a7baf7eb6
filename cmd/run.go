package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/export"
	"github.com/sells-group/geobatch/internal/fetcher"
	"github.com/sells-group/geobatch/internal/ingest"
	"github.com/sells-group/geobatch/internal/model"
	"github.com/sells-group/geobatch/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Normalize and geocode an address file",
	Long:  "Reads a CSV, TSV, XLSX or JSON file (local path, http(s):// or ftp:// URL), processes every row and writes the results.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		output, _ := cmd.Flags().GetString("output")
		formatFlag, _ := cmd.Flags().GetString("format")
		compressFlag, _ := cmd.Flags().GetString("compress")
		sheet, _ := cmd.Flags().GetString("sheet")
		limit, _ := cmd.Flags().GetInt("limit")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		bucket, _ := cmd.Flags().GetString("publish")

		if formatFlag == "" {
			formatFlag = cfg.Output.Format
		}
		if compressFlag == "" {
			compressFlag = cfg.Output.Compress
		}
		if bucket == "" {
			bucket = cfg.Output.BucketURL
		}

		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		compress, err := export.ParseCompression(compressFlag)
		if err != nil {
			return err
		}
		if output == "" && (format == export.FormatParquet || compress == export.CompressZstd) {
			return eris.New("--output is required for parquet or compressed output")
		}

		opts, err := ingestOptions(cfg.Ingest, sheet, limit)
		if err != nil {
			return err
		}

		if dryRun {
			return dryRunInput(ctx, cmd.OutOrStdout(), input, opts)
		}

		env, err := initPipeline(ctx, "run", pipeline.WithProgress(logProgress))
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.ProcessFile(ctx, input, opts)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run complete",
			zap.String("run_id", result.RunID),
			zap.Int("total", result.Statistics.Total),
			zap.Int("high", result.Statistics.High),
			zap.Int("medium", result.Statistics.Medium),
			zap.Int("low", result.Statistics.Low),
			zap.Int("failed", result.Statistics.Failed),
			zap.Float64("batch_success_rate", result.RunSummary.SuccessRate),
		)

		if output == "" {
			return export.Write(cmd.OutOrStdout(), result, format)
		}

		written, err := export.WriteFile(output, result, export.Options{Format: format, Compress: compress})
		if err != nil {
			return err
		}
		zap.L().Info("results written", zap.String("path", written))

		if bucket != "" {
			prefix := cfg.Output.Prefix
			if result.RunID != "" {
				prefix = filepath.ToSlash(filepath.Join(prefix, result.RunID))
			}
			if _, err := export.Publish(ctx, bucket, prefix, written); err != nil {
				return err
			}
		}
		return nil
	},
}

// logProgress reports each finished batch.
func logProgress(done, total int, o model.BatchOutcome) {
	zap.L().Info(fmt.Sprintf("PROGRESS %d/%d", done, total),
		zap.Int("batch", o.BatchIndex),
		zap.String("status", string(o.Status)),
		zap.Int("retries", o.RetryCount),
		zap.Duration("elapsed", o.ProcessingTime),
	)
}

// dryRunInput parses the input and reports the detected columns without
// calling any provider.
func dryRunInput(ctx context.Context, out io.Writer, input string, opts ingest.Options) error {
	local, err := fetcher.NewSources(cfg.Fetch.TempDir).Localize(ctx, input)
	if err != nil {
		return err
	}
	table, err := ingest.ReadFile(ctx, local, opts)
	if err != nil {
		return err
	}
	formatDryRun(out, input, table)
	return nil
}

func formatDryRun(out io.Writer, input string, t *ingest.Table) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Input:\t%s\n", input)
	_, _ = fmt.Fprintf(w, "Rows:\t%d\n", len(t.Rows))
	_, _ = fmt.Fprintf(w, "Address columns:\t%v\n", t.Columns.Address)
	_, _ = fmt.Fprintf(w, "City column:\t%s\n", t.Columns.City)
	_, _ = fmt.Fprintf(w, "State column:\t%s\n", t.Columns.State)
	_, _ = fmt.Fprintf(w, "Phone column:\t%s\n", t.Columns.Phone)
	_, _ = fmt.Fprintf(w, "Email column:\t%s\n", t.Columns.Email)

	empty := 0
	for _, r := range t.Rows {
		if r.Fields.Address == "" {
			empty++
		}
	}
	_, _ = fmt.Fprintf(w, "Rows without address:\t%d\n", empty)
	_ = w.Flush()
}

func init() {
	runCmd.Flags().String("input", "", "input file path or http(s)/ftp URL (required)")
	runCmd.Flags().String("output", "", "output file (default: stdout)")
	runCmd.Flags().String("format", "", "output format: json, csv or parquet (default from config)")
	runCmd.Flags().String("compress", "", "output compression: none or zstd (default from config)")
	runCmd.Flags().String("sheet", "", "XLSX sheet name (default: first sheet)")
	runCmd.Flags().Int("limit", 0, "process at most this many rows (0 = all)")
	runCmd.Flags().Bool("dry-run", false, "parse the input and report detected columns only")
	runCmd.Flags().String("publish", "", "bucket URL to upload the output to (file://, s3://, gs://)")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}
