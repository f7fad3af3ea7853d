package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/menumap/internal/config"
	"github.com/kalambet/menumap/internal/mapper"
	"github.com/kalambet/menumap/internal/storage"
)

// --- map ---

var mapCmd = &cobra.Command{
	Use:   "map <menu name>",
	Short: "Map one menu item name onto the master menu",
	Long: `Map one menu item name onto the master menu.

Examples:
  menumap map "kotthu parota"
  menumap map --verbose "paneer tikka masala (half)"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.Join(args, " ")
		verbose, _ := cmd.Flags().GetBool("verbose")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{"menu_name": {name}}
		if verbose {
			q.Set("verbose", "true")
		}
		resp, err := client.get(cmd.Context(), "/menu-mapping?"+q.Encode())
		if err != nil {
			return err
		}

		if verbose {
			var res any
			if err := decodeJSON(resp, &res); err != nil {
				return err
			}
			return printJSON(res)
		}

		var matches []mapper.QueryResult
		if err := decodeJSON(resp, &matches); err != nil {
			return err
		}
		printMatches(matches)
		return nil
	},
}

func init() {
	mapCmd.Flags().Bool("verbose", false, "print the full pipeline result as JSON")
}

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Upload and track batch mapping jobs",
}

var batchUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Queue a CSV (id,name,mv_id,mv_name) or PDF menu for mapping",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		wait, _ := cmd.Flags().GetBool("wait")

		endpoint := "/menu-mapping/batch"
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			endpoint = "/menu-mapping/pdf"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), endpoint, path)
		if err != nil {
			return err
		}
		var accepted struct {
			BatchID string `json:"batch_id"`
			Status  string `json:"status"`
			Rows    int    `json:"rows"`
		}
		if err := decodeJSON(resp, &accepted); err != nil {
			return err
		}
		printSuccess("Queued batch %s (%d rows)", accepted.BatchID, accepted.Rows)

		if !wait {
			return nil
		}
		for {
			st, err := fetchBatch(cmd, client, accepted.BatchID)
			if err != nil {
				return err
			}
			printStep("%d/%d rows processed, %d failed", st.ProcessedRows, st.TotalRows, st.FailedRows)
			if st.Status == storage.BatchCompleted {
				printBatch(st)
				return nil
			}
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(2 * time.Second):
			}
		}
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <batch id>",
	Short: "Show progress and accuracy for a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := fetchBatch(cmd, client, args[0])
		if err != nil {
			return err
		}
		printBatch(st)
		return nil
	},
}

type batchStatus struct {
	storage.Batch
	Accuracy storage.BatchAccuracy `json:"accuracy"`
}

func fetchBatch(cmd *cobra.Command, client *apiClient, id string) (batchStatus, error) {
	resp, err := client.get(cmd.Context(), "/batches/"+url.PathEscape(id))
	if err != nil {
		return batchStatus{}, err
	}
	var st batchStatus
	if err := decodeJSON(resp, &st); err != nil {
		return batchStatus{}, err
	}
	return st, nil
}

func init() {
	batchUploadCmd.Flags().Bool("wait", false, "poll until the batch completes")
	batchCmd.AddCommand(batchUploadCmd)
	batchCmd.AddCommand(batchStatusCmd)
}

// --- predictions ---

var predictionsCmd = &cobra.Command{
	Use:   "predictions",
	Short: "Review stored predictions",
}

var predictionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		batchID, _ := cmd.Flags().GetString("batch")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{"limit": {fmt.Sprint(limit)}}
		if batchID != "" {
			q.Set("batch_id", batchID)
		}
		resp, err := client.get(cmd.Context(), "/predictions?"+q.Encode())
		if err != nil {
			return err
		}

		var preds []storage.Prediction
		if err := decodeJSON(resp, &preds); err != nil {
			return err
		}
		if len(preds) == 0 {
			fmt.Println("No predictions found.")
			return nil
		}

		for _, p := range preds {
			mark := " "
			switch {
			case p.IsApproved != nil && *p.IsApproved:
				mark = colorize(colorGreen, "✓")
			case p.IsApproved != nil:
				mark = colorize(colorRed, "✗")
			}
			fmt.Printf("%s %s  %-40s → %d %s\n",
				mark,
				colorize(colorCyan, shortID(p.ID)),
				truncate(p.MenuName, 40),
				p.PredictedMenuID,
				p.PredictedMenuName,
			)
		}
		return nil
	},
}

var predictionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single prediction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/predictions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(p)
	},
}

func reviewCmd(use, short string, approved bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			resp, err := client.patch(cmd.Context(), "/predictions/"+url.PathEscape(args[0]), map[string]bool{"is_approved": approved})
			if err != nil {
				return err
			}
			var p storage.Prediction
			if err := decodeJSON(resp, &p); err != nil {
				return err
			}
			if approved {
				printSuccess("Approved %s", args[0])
			} else {
				printSuccess("Rejected %s", args[0])
			}
			return nil
		},
	}
}

func init() {
	predictionsListCmd.Flags().Int("limit", 20, "maximum number of predictions to list")
	predictionsListCmd.Flags().String("batch", "", "only list predictions from this batch")
	predictionsCmd.AddCommand(predictionsListCmd)
	predictionsCmd.AddCommand(predictionsShowCmd)
	predictionsCmd.AddCommand(reviewCmd("approve", "Mark a prediction as correct", true))
	predictionsCmd.AddCommand(reviewCmd("reject", "Mark a prediction as wrong", false))
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
