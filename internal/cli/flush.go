package cli

import "fmt"

// Execute implements the go-flags Commander interface for FlushCommand.
func (c *FlushCommand) Execute(args []string) error {
	base, err := resolveBaseURL(c.baseURL, c.globals)
	if err != nil {
		return err
	}

	res, err := postMessage(base, map[string]any{"type": "MANUAL_FLUSH"})
	if err != nil {
		return err
	}

	count := 0
	if n, ok := res["count"].(float64); ok {
		count = int(n)
	}
	if msg, _ := res["error"].(string); msg != "" {
		return fmt.Errorf("flush: %s", msg)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(res)
	}
	if count == 0 {
		fmt.Println("Nothing to flush.")
	} else {
		fmt.Printf("Flushed %d buffered records.\n", count)
	}
	return nil
}
