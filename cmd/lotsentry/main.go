// Command lotsentry is a thin client for the compliance API. It exists for
// operators and CI jobs: run a check, trigger a redigest, resolve a
// collision, without curl incantations.
//
// Exit codes: 0 success, 2 not found, 3 conflict, 4 judgment unavailable,
// 1 anything else.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const usage = `usage: lotsentry <command> [flags]

commands:
  check       run a compliance check against a URL
  redigest    activate a new digest and re-derive rules for a source
  sources     list legislation sources
  collisions  list rule collisions
  resolve     resolve a rule collision

global env:
  LOTSENTRY_API   base URL of the API (default http://localhost:8080)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	baseURL := os.Getenv("LOTSENTRY_API")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	cli := &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}

	var err error
	switch os.Args[1] {
	case "check":
		err = runCheck(cli, os.Args[2:])
	case "redigest":
		err = runRedigest(cli, os.Args[2:])
	case "sources":
		err = runSources(cli, os.Args[2:])
	case "collisions":
		err = runCollisions(cli, os.Args[2:])
	case "resolve":
		err = runResolve(cli, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lotsentry: %v\n", err)
		os.Exit(exitCode(err))
	}
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Body)
}

func exitCode(err error) int {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			return 2
		case http.StatusConflict:
			return 3
		case http.StatusBadGateway:
			return 4
		}
	}
	return 1
}

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) do(method, path string, payload any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{Status: resp.StatusCode, Body: string(raw)}
	}
	var out map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return out, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func runCheck(cli *client, args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	url := fs.String("url", "", "page URL to check")
	state := fs.String("state", "", "two-letter state code")
	pageType := fs.String("page-type", "", "page type (vdp, inventory, homepage)")
	platform := fs.String("platform", "", "platform hint")
	_ = fs.Parse(args)
	if *url == "" || *state == "" {
		return fmt.Errorf("check requires -url and -state")
	}
	out, err := cli.do("POST", "/api/checks", map[string]any{
		"url":           *url,
		"state_code":    *state,
		"page_type":     *pageType,
		"platform_hint": *platform,
	})
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}

func runRedigest(cli *client, args []string) error {
	fs := flag.NewFlagSet("redigest", flag.ExitOnError)
	sourceID := fs.String("source", "", "legislation source id")
	file := fs.String("file", "", "file with the new interpreted requirements (default stdin)")
	createdBy := fs.String("by", "", "who is redigesting")
	_ = fs.Parse(args)
	if *sourceID == "" {
		return fmt.Errorf("redigest requires -source")
	}

	var text []byte
	var err error
	if *file != "" {
		text, err = os.ReadFile(*file)
	} else {
		text, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read requirements: %w", err)
	}

	out, err := cli.do("POST", "/api/sources/"+*sourceID+"/redigest", map[string]any{
		"interpreted_requirements": string(text),
		"created_by":               *createdBy,
	})
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}

func runSources(cli *client, args []string) error {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	state := fs.String("state", "", "filter by state code")
	_ = fs.Parse(args)
	path := "/api/sources"
	if *state != "" {
		path += "?state=" + *state
	}
	out, err := cli.do("GET", path, nil)
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}

func runCollisions(cli *client, args []string) error {
	fs := flag.NewFlagSet("collisions", flag.ExitOnError)
	pending := fs.Bool("pending", false, "only pending collisions")
	_ = fs.Parse(args)
	path := "/api/collisions"
	if *pending {
		path += "?pending=true"
	}
	out, err := cli.do("GET", path, nil)
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}

func runResolve(cli *client, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	id := fs.String("id", "", "collision id")
	resolution := fs.String("resolution", "", "keep_both, keep_existing, keep_new, or merge")
	by := fs.String("by", "", "who is resolving")
	mergedText := fs.String("merged-text", "", "merged rule text (merge only)")
	_ = fs.Parse(args)
	if *id == "" || *resolution == "" || *by == "" {
		return fmt.Errorf("resolve requires -id, -resolution, and -by")
	}
	out, err := cli.do("POST", "/api/collisions/"+*id+"/resolve", map[string]any{
		"resolution":  *resolution,
		"resolved_by": *by,
		"merged_text": *mergedText,
	})
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}
