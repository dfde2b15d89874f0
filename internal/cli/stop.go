package cli

import "fmt"

// Execute implements the go-flags Commander interface for StopCommand.
func (c *StopCommand) Execute(args []string) error {
	base, err := resolveBaseURL(c.baseURL, c.globals)
	if err != nil {
		return err
	}

	res, err := postMessage(base, map[string]any{
		"type":  "STOP_SESSION",
		"notes": c.Notes,
	})
	if err != nil {
		return err
	}
	if err := messageError(res); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(res)
	}
	fmt.Println("Session stopped.")
	return nil
}
