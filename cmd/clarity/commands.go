package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/clarity/internal/api"
	"github.com/kalambet/clarity/internal/config"
	"github.com/kalambet/clarity/internal/storage"
)

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Send a request to a running clarity server",
	Long: `Send a request to a running clarity server and print the result preview.

Examples:
  clarity submit --email ada@example.com --text "Classify part X"
  clarity submit --email ada@example.com --name Ada --file ./request.txt
  echo "Classify part X" | clarity submit --email ada@example.com --file -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		token, _ := cmd.Flags().GetString("token")

		if email == "" {
			return errors.New("--email is required")
		}
		if text == "" && file == "" {
			return errors.New("one of --text or --file is required")
		}
		if file != "" {
			data, err := readRequestFile(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			text = data
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Submitting request for %s", email)
		resp, err := submitRequest(cmd, client, api.SubmitRequest{
			Name:           name,
			Email:          email,
			RequestText:    text,
			RecaptchaToken: token,
		})
		if err != nil {
			return err
		}

		if resp.SubmissionID != nil {
			printSuccess("Submission %s processed", *resp.SubmissionID)
		} else {
			printWarning("Processed, but the submission was not recorded")
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.ResultPreview)
		return nil
	},
}

func submitRequest(cmd *cobra.Command, client *apiClient, req api.SubmitRequest) (api.SubmitResponse, error) {
	resp, err := client.post(cmd.Context(), "/api/submit", req)
	if err != nil {
		return api.SubmitResponse{}, err
	}
	var out api.SubmitResponse
	if err := decodeJSON(resp, &out); err != nil {
		return api.SubmitResponse{}, err
	}
	return out, nil
}

func readRequestFile(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading request: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func init() {
	submitCmd.Flags().String("name", "", "submitter name")
	submitCmd.Flags().String("email", "", "submitter email (required)")
	submitCmd.Flags().String("text", "", "request text")
	submitCmd.Flags().String("file", "", "read request text from a file (- for stdin)")
	submitCmd.Flags().String("token", "", "reCAPTCHA token, when the server verifies submitters")
}

// --- submissions ---

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "Inspect stored submissions (requires server.admin_token)",
}

var submissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			return errors.New("--limit must be positive")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		resp, err := client.get(cmd.Context(), "/submissions?"+q.Encode())
		if err != nil {
			return err
		}

		var subs []storage.Submission
		if err := decodeJSON(resp, &subs); err != nil {
			return err
		}

		if len(subs) == 0 {
			printWarning("No submissions yet")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderSubmissions(subs))
		return nil
	},
}

func renderSubmissions(subs []storage.Submission) string {
	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		rows = append(rows, []string{
			s.ID,
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
			s.Email,
			statusLabel(s.Status),
			truncate(s.RequestText, 40),
		})
	}
	return renderTable(
		[]string{"ID", "Created", "Email", "Status", "Request"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var submissionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one submission as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/submissions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var sub storage.Submission
		if err := decodeJSON(resp, &sub); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sub)
	},
}

func init() {
	submissionsListCmd.Flags().Int("limit", 20, "maximum number of submissions")
	submissionsCmd.AddCommand(submissionsListCmd)
	submissionsCmd.AddCommand(submissionsShowCmd)
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

		rows := [][]string{}
		for _, k := range config.ShowAll(cfg) {
			rows = append(rows, []string{k.Key, k.Value, k.EnvVar})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value", "Env"}, rows, nil))
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
