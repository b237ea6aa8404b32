package main

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chemkb/chemkb/internal/config"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload documents to the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		for _, path := range args {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			part, err := writer.CreateFormFile("file", filepath.Base(path))
			if err == nil {
				_, err = io.Copy(part, f)
			}
			f.Close()
			if err != nil {
				return fmt.Errorf("staging %s: %w", path, err)
			}
		}
		if err := writer.Close(); err != nil {
			return err
		}

		req, err := http.NewRequest("POST", client.baseURL+"/upload", &buf)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		resp, err := client.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("server not reachable — is chemkb running? (%w)", err)
		}

		var result struct {
			Data struct {
				Uploaded []struct {
					ID       string `json:"id"`
					Filename string `json:"filename"`
				} `json:"uploaded"`
				Failed []struct {
					Filename string `json:"filename"`
					Error    string `json:"error"`
				} `json:"failed"`
			} `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, f := range result.Data.Uploaded {
			printSuccess("Uploaded %s (%s)", f.Filename, f.ID)
		}
		for _, f := range result.Data.Failed {
			printError("Failed %s: %s", f.Filename, f.Error)
		}
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the knowledge base a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		topK, _ := cmd.Flags().GetInt("top-k")
		tagsStr, _ := cmd.Flags().GetString("tags")

		body := map[string]any{"question": question}
		if topK > 0 {
			body["top_k"] = topK
		}
		if tagsStr != "" {
			var tags []string
			for _, t := range strings.Split(tagsStr, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
			body["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/qa/rag", body)
		if err != nil {
			return err
		}

		var result struct {
			Data struct {
				Answer           string `json:"answer"`
				ResponseType     string `json:"response_type"`
				RetrievalResults struct {
					UsedSegments  int `json:"used_segments"`
					CitedSegments []struct {
						Index      int     `json:"index"`
						FileName   string  `json:"file_name"`
						Similarity float32 `json:"similarity"`
					} `json:"cited_segments"`
				} `json:"retrieval_results"`
				QualityAssessment struct {
					QualityScore int    `json:"quality_score"`
					Assessment   string `json:"assessment"`
				} `json:"quality_assessment"`
			} `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Data.Answer)
		fmt.Println()
		printStatus("Type", "%s", result.Data.ResponseType)
		printStatus("Quality", "%s (%d)", result.Data.QualityAssessment.Assessment, result.Data.QualityAssessment.QualityScore)
		for _, c := range result.Data.RetrievalResults.CitedSegments {
			printStatus("Source", "[%d] %s (%.3f)", c.Index, c.FileName, c.Similarity)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Int("top-k", 0, "number of passages to retrieve")
	askCmd.Flags().String("tags", "", "comma-separated tags to attach to the history record")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage question-answer history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/qa/history")
		if err != nil {
			return err
		}

		var result struct {
			Data struct {
				Records []struct {
					ID           string `json:"id"`
					Timestamp    string `json:"timestamp"`
					Question     string `json:"question"`
					ResponseType string `json:"response_type"`
					Confidence   int    `json:"confidence"`
				} `json:"records"`
			} `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Data.Records) == 0 {
			fmt.Println("No history records.")
			return nil
		}
		for _, rec := range result.Data.Records {
			question := rec.Question
			if runes := []rune(question); len(runes) > 60 {
				question = string(runes[:60]) + "..."
			}
			fmt.Printf("%s  %s  [%s %d]  %s\n",
				colorize(colorCyan, rec.ID[:8]),
				rec.Timestamp,
				rec.ResponseType,
				rec.Confidence,
				question,
			)
		}
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export history as JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/qa/history/export?format=" + format)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		var writer io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}
		if _, err := io.Copy(writer, resp.Body); err != nil {
			return err
		}
		if output != "" {
			printSuccess("History exported to %s", output)
		}
		return nil
	},
}

func init() {
	historyExportCmd.Flags().String("format", "json", "export format: json or csv")
	historyExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyExportCmd)
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
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
