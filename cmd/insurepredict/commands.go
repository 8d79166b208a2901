package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/insurepredict/internal/api"
	"github.com/kalambet/insurepredict/internal/config"
	"github.com/kalambet/insurepredict/internal/ingest"
	"github.com/kalambet/insurepredict/internal/predict"
	"github.com/kalambet/insurepredict/internal/present"
	"github.com/kalambet/insurepredict/internal/schema"
)

// tableOptions are the display flags shared by preview, predict and upload.
type tableOptions struct {
	projection present.Projection
	limit      int
}

func readTableOptions(cmd *cobra.Command, defaultProjection string) (tableOptions, error) {
	name, _ := cmd.Flags().GetString("projection")
	if name == "" {
		name = defaultProjection
	}
	projection, err := present.ParseProjection(name)
	if err != nil {
		return tableOptions{}, err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	return tableOptions{projection: projection, limit: limit}, nil
}

func addTableFlags(cmd *cobra.Command) {
	cmd.Flags().String("projection", "", "columns to show: full or id-response")
	cmd.Flags().Int("limit", 20, "maximum rows to print (0 prints all)")
}

// printRows renders at most opts.limit rows and notes how many were cut.
func printRows(w io.Writer, sch schema.Schema, rows []schema.Row, opts tableOptions) error {
	shown := rows
	if opts.limit > 0 && len(shown) > opts.limit {
		shown = shown[:opts.limit]
	}
	if err := present.RenderText(w, present.Build(sch, shown, opts.projection)); err != nil {
		return err
	}
	if len(rows) > len(shown) {
		fmt.Fprintf(w, "... %d more rows (use --limit 0 to print all)\n", len(rows)-len(shown))
	}
	return nil
}

// localPipeline loads config and applies a --schema override.
func localPipeline(cmd *cobra.Command) (config.Config, *ingest.Pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	setupLogging(cfg.Log.Level)
	if name, _ := cmd.Flags().GetString("schema"); name != "" {
		cfg.Ingest.Schema = name
	}
	p, err := buildPipeline(cfg)
	return cfg, p, err
}

func readCSVFile(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, max)
	}
	return data, nil
}

// parseFile runs the pipeline over data and reports its outcome on stderr.
// Rows buffered before a read error are still returned.
func parseFile(ctx context.Context, p *ingest.Pipeline, data []byte) (ingest.Result, error) {
	res, err := p.Run(ctx, bytes.NewReader(data), nil)

	var missing *ingest.MissingColumnError
	switch {
	case errors.As(err, &missing):
		return res, err
	case err != nil && len(res.Rows) == 0:
		return res, err
	case err != nil:
		printWarning("%v; showing the %d rows read before it", err, len(res.Rows))
	}
	if res.Truncated() {
		printWarning("%s", res.Warning.Error())
	}
	return res, nil
}

// --- preview ---

var previewCmd = &cobra.Command{
	Use:   "preview <file.csv>",
	Short: "Parse a CSV file and print its preview table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := readTableOptions(cmd, "full")
		if err != nil {
			return err
		}
		cfg, p, err := localPipeline(cmd)
		if err != nil {
			return err
		}
		return runPreview(cmd.Context(), cmd.OutOrStdout(), p, args[0], int64(cfg.Ingest.MaxUploadBytes), opts)
	},
}

func runPreview(ctx context.Context, w io.Writer, p *ingest.Pipeline, path string, max int64, opts tableOptions) error {
	data, err := readCSVFile(path, max)
	if err != nil {
		return err
	}
	res, err := parseFile(ctx, p, data)
	if err != nil {
		return err
	}
	printStep("%d rows previewed (%s)", len(res.Rows), res.State)
	return printRows(w, p.Schema(), res.Rows, opts)
}

// --- predict ---

var predictCmd = &cobra.Command{
	Use:   "predict <file.csv>",
	Short: "Parse a CSV file and predict a Response for every previewed row",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := readTableOptions(cmd, "id-response")
		if err != nil {
			return err
		}
		cfg, p, err := localPipeline(cmd)
		if err != nil {
			return err
		}
		pred, err := predict.New(cfg.Predict)
		if err != nil {
			return err
		}
		return runPredict(cmd.Context(), cmd.OutOrStdout(), p, pred, args[0], int64(cfg.Ingest.MaxUploadBytes), opts)
	},
}

func runPredict(ctx context.Context, w io.Writer, p *ingest.Pipeline, pred predict.Predictor, path string, max int64, opts tableOptions) error {
	data, err := readCSVFile(path, max)
	if err != nil {
		return err
	}
	res, err := parseFile(ctx, p, data)
	if err != nil {
		return err
	}
	if len(res.Rows) == 0 {
		return errors.New("no rows to predict: the file has a header but no data")
	}

	printStep("predicting %d rows with the %s predictor", len(res.Rows), pred.Mode())
	rows, err := pred.Predict(ctx, predict.Request{
		Schema: p.Schema(),
		Rows:   res.Rows,
		File:   predict.Upload{Name: path, Content: data},
	})
	if err != nil {
		return err
	}
	printSuccess("%d rows predicted", len(rows))
	return printRows(w, p.Schema(), rows, opts)
}

func init() {
	for _, cmd := range []*cobra.Command{previewCmd, predictCmd} {
		addTableFlags(cmd)
		cmd.Flags().String("schema", "", "override ingest.schema for this run")
	}
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.csv>",
	Short: "Upload a CSV file to a running server",
	Long: `Upload a CSV file to a running server, optionally predict, and print
the resulting table.

Examples:
  insurepredict upload ./test.csv
  insurepredict upload ./test.csv --predict --projection id-response
  insurepredict upload ./test.csv --keep`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := readTableOptions(cmd, "full")
		if err != nil {
			return err
		}
		doPredict, _ := cmd.Flags().GetBool("predict")
		keep, _ := cmd.Flags().GetBool("keep")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runUpload(cmd.Context(), client, cmd.OutOrStdout(), args[0], doPredict, keep, opts)
	},
}

func runUpload(ctx context.Context, client *apiClient, w io.Writer, path string, doPredict, keep bool, opts tableOptions) error {
	id, err := client.createSession(ctx)
	if err != nil {
		return err
	}
	if keep {
		printStatus("Session", "%s", id)
	} else {
		defer func() {
			if resp, err := client.delete(context.Background(), "/sessions/"+id); err == nil {
				resp.Body.Close()
			}
		}()
	}

	resp, err := client.upload(ctx, "/sessions/"+id+"/upload?wait=1", path)
	if err != nil {
		return err
	}
	var view sessionView
	if err := decodeJSON(resp, &view); err != nil {
		return err
	}
	if view.Error != "" && len(view.Rows) == 0 {
		return errors.New(view.Error)
	}
	if view.Error != "" {
		printWarning("%s", view.Error)
	}
	if view.Warning != "" {
		printWarning("%s", view.Warning)
	}
	printStep("%d rows previewed (%s)", len(view.Rows), view.State)

	if doPredict {
		resp, err := client.post(ctx, "/sessions/"+id+"/predict", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}
		printSuccess("%d rows predicted", len(view.Predicted))
	}

	sch, err := schema.Lookup(view.Schema)
	if err != nil {
		return err
	}
	return printRows(w, sch, view.displayed(), opts)
}

func init() {
	addTableFlags(uploadCmd)
	uploadCmd.Flags().Bool("predict", false, "run the predictor after the upload is parsed")
	uploadCmd.Flags().Bool("keep", false, "keep the session on the server and print its id")
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the preview and predict tools over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, p, err := localPipeline(cmd)
		if err != nil {
			return err
		}
		pred, err := predict.New(cfg.Predict)
		if err != nil {
			return err
		}

		s := api.NewMCPServer(api.MCPDeps{
			Pipeline:     p,
			Predictor:    pred,
			Version:      version,
			MaxFileBytes: int64(cfg.Ingest.MaxUploadBytes),
		})
		return server.ServeStdio(s)
	},
}

func init() {
	mcpCmd.Flags().String("schema", "", "override ingest.schema for this server")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "# %s\n", config.FilePath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
