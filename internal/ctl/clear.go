package ctl

import (
	"fmt"
	"strings"
)

// Clear empties the daemon viewer's aggregated entries via DELETE /api/snapshot.
func Clear(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var resp struct {
		Cleared int `json:"cleared"`
	}
	if err := deleteJSON(baseURL, "/api/snapshot", &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  %s  removed %d entries\n", colorize(green, "CLEARED"), resp.Cleared)
	fmt.Fprintln(stdout)
	return nil
}
