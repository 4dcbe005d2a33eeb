// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command banctl is the operator CLI for a running banctld instance: it
// talks to the daemon's HTTP control surface, it does not touch any
// source or sink adapter directly.
package main

import (
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

// client mirrors the HTTP-client idiom used by the interactive dashboard's
// remote backend: a bearer/API-key header pair sent on every request, a
// bounded timeout, and optional TLS verification skip for self-signed
// daemon endpoints.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string, insecure bool) *client {
	transport := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure}}
	return &client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second, Transport: transport},
	}
}

func (c *client) do(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

func (c *client) getJSON(path string, out any) error {
	resp, err := c.do(http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:9469", "banctld HTTP API base URL")
	apiKey := flag.String("api-key", os.Getenv("BANCTL_API_KEY"), "bearer token for the daemon's HTTP API")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := newClient(*addr, *apiKey, *insecure)

	var err error
	switch args[0] {
	case "status":
		err = cmdStatus(c)
	case "whitelist":
		err = cmdWhitelist(c)
	case "force-sync":
		err = cmdForceSync(c)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "banctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: banctl [-addr url] [-api-key key] [-insecure] <status|whitelist|force-sync>")
}

func cmdStatus(c *client) error {
	var status map[string]any
	if err := c.getJSON("/api/status", &status); err != nil {
		return err
	}
	return printJSON(status)
}

func cmdWhitelist(c *client) error {
	var body struct {
		Whitelist []string `json:"whitelist"`
	}
	if err := c.getJSON("/api/whitelist", &body); err != nil {
		return err
	}
	if len(body.Whitelist) == 0 {
		fmt.Println("(whitelist is empty)")
		return nil
	}
	for _, ip := range body.Whitelist {
		fmt.Println(ip)
	}
	return nil
}

func cmdForceSync(c *client) error {
	resp, err := c.do(http.MethodPost, "/api/force-sync")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("force-sync rejected: %s: %s", resp.Status, body["error"])
	}
	fmt.Println(body["status"])
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
