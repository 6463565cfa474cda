package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/marcasino/internal/middleware"
	"github.com/spf13/cobra"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

func requireUser(cmd *cobra.Command) (string, error) {
	user, _ := cmd.Flags().GetString("user")
	if strings.TrimSpace(user) == "" {
		return "", fmt.Errorf("--user (or MARCASINO_USER) is required")
	}
	return user, nil
}

// call sends body as JSON and pretty-prints the response. Non-2xx statuses
// are returned as errors carrying the server's message.
func call(cmd *cobra.Command, method, path string, body any) error {
	server, _ := cmd.Flags().GetString("server")
	user, _ := cmd.Flags().GetString("user")

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(cmd.Context(), method, strings.TrimRight(server, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Code != "" {
				return fmt.Errorf("%s (%s, HTTP %d)", apiErr.Error, apiErr.Code, resp.StatusCode)
			}
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), resp.Status)
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		_, _ = cmd.OutOrStdout().Write(data)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
	return nil
}
