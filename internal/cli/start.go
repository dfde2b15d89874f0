package cli

import "fmt"

// Execute implements the go-flags Commander interface for StartCommand.
func (c *StartCommand) Execute(args []string) error {
	if c.User == "" {
		return fmt.Errorf("--user is required")
	}

	base, err := resolveBaseURL(c.baseURL, c.globals)
	if err != nil {
		return err
	}

	res, err := postMessage(base, map[string]any{
		"type":       "START_SESSION",
		"user":       c.User,
		"projectTag": c.Project,
	})
	if err != nil {
		return err
	}
	if err := messageError(res); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(res)
	}

	if sess, ok := res["activeSession"].(map[string]any); ok {
		if sess["user"] != c.User {
			fmt.Printf("Session already active for %s; no new session started.\n", sess["user"])
			return nil
		}
	}
	fmt.Printf("Session started for %s", c.User)
	if c.Project != "" {
		fmt.Printf(" (project %s)", c.Project)
	}
	fmt.Println()
	return nil
}
