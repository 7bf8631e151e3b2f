package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"perfassess/internal/knowledge"
	"perfassess/internal/model"
	"perfassess/internal/scenario"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "seed",
		Short:         "Validate session definitions and load them into a running server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newValidateCmd(), newCreateCmd())
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition>",
		Short: "Build a definition locally and print its node ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, format, err := readDefinition(args[0])
			if err != nil {
				return err
			}
			built, err := load(data, format)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d tasks, %d session end triggers\n", built.Name, len(built.Tasks), len(built.EndTriggers))
			for _, task := range built.Tasks {
				fmt.Fprintf(out, "  task %d %s\n", task.NodeID(), task.Name())
				task.Walk(func(c knowledge.ConceptNode) {
					fmt.Fprintf(out, "    concept %d %s\n", c.NodeID(), c.Name())
				})
			}
			return nil
		},
	}
}

func newCreateCmd() *cobra.Command {
	var api, username, password string
	var start bool

	cmd := &cobra.Command{
		Use:   "create <definition>",
		Short: "Create a session from a definition on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, format, err := readDefinition(args[0])
			if err != nil {
				return err
			}
			if _, err := load(data, format); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			c := &client{base: strings.TrimRight(api, "/"), http: &http.Client{}}

			var login model.LoginResponse
			body, _ := json.Marshal(model.LoginRequest{Username: username, Password: password})
			if err := c.do(ctx, "/v1/auth/login", "application/json", body, &login); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			c.token = login.Token

			var rec model.SessionRecord
			if err := c.do(ctx, "/v1/sessions", format, data, &rec); err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created session %s (%s)\n", rec.ID, rec.Name)

			if start {
				if err := c.do(ctx, "/v1/sessions/"+rec.ID+"/start", "", nil, nil); err != nil {
					return fmt.Errorf("start session: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "started session %s\n", rec.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&api, "api", envOr("PERFASSESS_API", "http://localhost:8080"), "Server base URL")
	cmd.Flags().StringVar(&username, "username", envOr("OBSERVER_USERNAME", "observer"), "Observer username")
	cmd.Flags().StringVar(&password, "password", os.Getenv("OBSERVER_PASSWORD"), "Observer password")
	cmd.Flags().BoolVar(&start, "start", false, "Start the session once created")
	return cmd
}

// readDefinition returns the file and the content type its extension implies
func readDefinition(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return data, "application/yaml", nil
	case ".json":
		return data, "application/json", nil
	}
	return nil, "", fmt.Errorf("%w: %s", scenario.ErrUnsupportedFormat, path)
}

func load(data []byte, format string) (*scenario.Built, error) {
	def, err := scenario.Decode(data, format)
	if err != nil {
		return nil, err
	}
	return scenario.Build(def)
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(ctx context.Context, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
