package cmd

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var applyFlags struct {
	server string
	token  string
	repo   string
}

var applyCmd = &cobra.Command{
	Use:   "apply [workflow file]",
	Short: "Apply a workflow to a gantry server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return applyRun(args[0])
	},
}

func init() {
	gantryCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringVar(&applyFlags.server, "server", "http://127.0.0.1:8100", "Server base URL")
	applyCmd.Flags().StringVar(&applyFlags.token, "token", os.Getenv("GANTRY_TOKEN"), "Bearer token")
	applyCmd.Flags().StringVar(&applyFlags.repo, "repo", "", "Repository (owner/name) hook events must come from")
	viper.BindPFlags(applyCmd.Flags())
}

func applyRun(file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	// Compile locally first for an error message with context instead of
	// a 400.
	wf, err := workflow.CompileBytes(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	if err := wf.Validate(); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	target := strings.TrimRight(applyFlags.server, "/") + "/apis/v1/workflows/apply"
	if applyFlags.repo != "" {
		target += "?repo=" + url.QueryEscape(applyFlags.repo)
	}
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/yaml")
	if applyFlags.token != "" {
		req.Header.Set("Authorization", "Bearer "+applyFlags.token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server said %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
