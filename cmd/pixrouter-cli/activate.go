package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// runActivate calls the daemon admin API to make a stored ruleset version
// live. Version 0 activates the latest stored version.
func runActivate(args []string) error {
	fs := flag.NewFlagSet("activate", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:7440", "selectord base URL")
	rulesetID := fs.Int64("id", 0, "ruleset id (required)")
	version := fs.Int64("version", 0, "ruleset version (0 = latest stored)")
	note := fs.String("note", "", "audit note recorded with the activation")
	token := fs.String("token", "", "bearer token (default: PIXROUTER_ADMIN_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *rulesetID <= 0 {
		return usageError("usage: pixrouter-cli activate -id <ruleset-id> [-version n] [-addr url] [-note text]")
	}
	bearer := strings.TrimSpace(*token)
	if bearer == "" {
		bearer = strings.TrimSpace(os.Getenv("PIXROUTER_ADMIN_TOKEN"))
	}

	body, err := json.Marshal(map[string]any{"version": *version, "note": *note})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/admin/rulesets/%d/activate", strings.TrimRight(*addr, "/"), *rulesetID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call selectord: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("activate failed: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var result struct {
		ActivationID string    `json:"activation_id"`
		RulesetID    int64     `json:"ruleset_id"`
		Version      int64     `json:"version"`
		ActivatedAt  time.Time `json:"activated_at"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Printf("activated ruleset %d version %d (activation %s)\n",
		result.RulesetID, result.Version, result.ActivationID)
	return nil
}
