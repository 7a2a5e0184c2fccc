package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string         `json:"name"`
	State         string         `json:"state"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Addr          string         `json:"addr"`
	RelayURL      string         `json:"relay_url"`
	RelayClients  int            `json:"relay_clients"`
	ViewerEnabled bool           `json:"viewer_enabled"`
	ViewerURL     string         `json:"viewer_url,omitempty"`
	ViewerSource  string         `json:"viewer_source,omitempty"`
	ViewerClients int            `json:"viewer_clients,omitempty"`
	ActiveTab     string         `json:"active_tab,omitempty"`
	Entries       map[string]int `json:"entries,omitempty"`
	DemoEnabled   bool           `json:"demo_enabled"`
	DemoLastStep  string         `json:"demo_last_step,omitempty"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)

	w := stdout
	fmt.Fprintln(w)
	fmt.Fprintln(w, header("  PIKKA CONSOLE STATUS"))
	fmt.Fprintln(w, rule(38))
	fmt.Fprintf(w, "  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Fprintf(w, "  %-12s %s\n", colorize(dim, "State:"), colorize(stateColor(s.State), s.State))
	fmt.Fprintf(w, "  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Fprintf(w, "  %-12s %s\n", colorize(dim, "Relay:"), s.RelayURL)
	fmt.Fprintf(w, "  %-12s %d\n", colorize(dim, "Clients:"), s.RelayClients)
	if s.ViewerEnabled {
		fmt.Fprintf(w, "  %-12s %s %s\n", colorize(dim, "Viewer:"), s.ViewerURL, colorize(dim, "("+s.ViewerSource+")"))
		fmt.Fprintf(w, "  %-12s %s\n", colorize(dim, "Tab:"), s.ActiveTab)
		if s.Entries != nil {
			fmt.Fprintf(w, "  %-12s log %d  info %d  warn %d  error %d\n",
				colorize(dim, "Entries:"),
				s.Entries["log"], s.Entries["info"], s.Entries["warn"], s.Entries["error"],
			)
		}
	} else {
		fmt.Fprintf(w, "  %-12s %s\n", colorize(dim, "Viewer:"), colorize(dim, "disabled"))
	}
	if s.DemoEnabled {
		fmt.Fprintf(w, "  %-12s %s\n", colorize(dim, "Demo:"), s.DemoLastStep)
	}
	fmt.Fprintf(w, "  %-12s %s\n", colorize(dim, "Host:"), baseURL)
	fmt.Fprintln(w)

	return nil
}
