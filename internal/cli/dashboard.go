package cli

import "fmt"

// Execute implements the go-flags Commander interface for DashboardCommand.
func (c *DashboardCommand) Execute(args []string) error {
	if c.User == "" {
		return fmt.Errorf("--user is required")
	}

	base, err := resolveBaseURL(c.baseURL, c.globals)
	if err != nil {
		return err
	}

	res, err := postMessage(base, map[string]any{
		"type": "FETCH_DASHBOARD",
		"user": c.User,
	})
	if err != nil {
		return err
	}
	if err := messageError(res); err != nil {
		return fmt.Errorf("fetch dashboard: %w", err)
	}

	// The dashboard shape is owned by the remote store; render it as JSON
	// rather than guessing at fields.
	data, ok := res["data"]
	if !ok {
		data = res
	}
	return printJSON(data)
}
