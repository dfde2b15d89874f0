package cli

import (
	"fmt"
	"time"
)

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	base, err := resolveBaseURL(c.baseURL, c.globals)
	if err != nil {
		return err
	}

	state, err := fetchState(base)
	if err != nil {
		return err
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(state)
	}
	return c.printHuman(state)
}

func (c *StatusCommand) printHuman(state map[string]any) error {
	fmt.Println("NobleTrack Status")
	fmt.Println("=================")
	fmt.Printf("Version:       %s\n", c.version)

	if sess, ok := state["activeSession"].(map[string]any); ok && sess != nil {
		fmt.Printf("Session:       active (%s)\n", sess["user"])
		if tag, _ := sess["projectTag"].(string); tag != "" {
			fmt.Printf("Project:       %s\n", tag)
		}
		if start, ok := sess["start"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, start); err == nil {
				fmt.Printf("Started:       %s (%s ago)\n",
					ts.Local().Format("15:04:05"), time.Since(ts).Round(time.Minute))
			}
		}
		if events, ok := sess["activityEvents"].(float64); ok {
			fmt.Printf("Activity:      %d events\n", int(events))
		}
		if domains, ok := sess["domains"].([]any); ok {
			fmt.Printf("Domains:       %d\n", len(domains))
		}
	} else {
		fmt.Println("Session:       idle")
	}

	if pending, ok := state["pending"].(float64); ok {
		fmt.Printf("Pending:       %d buffered records\n", int(pending))
	}

	if cfg, ok := state["config"].(map[string]any); ok {
		fmt.Println()
		fmt.Println("Config:")
		fmt.Printf("  Endpoint:    %v\n", onOff(cfg["endpointConfigured"], "configured", "not configured"))
		fmt.Printf("  Consent:     %v\n", onOff(cfg["consentLogging"], "logging on", "logging off"))
		fmt.Printf("  Signing:     %v\n", onOff(cfg["hasSecret"], "enabled", "disabled"))
		fmt.Printf("  Telemetry:   %v\n", onOff(cfg["enableTelemetry"], "enabled", "disabled"))
		if idle, ok := cfg["idleMinutes"].(float64); ok {
			fmt.Printf("  Idle stop:   %d minutes\n", int(idle))
		}
	}
	return nil
}

func onOff(v any, yes, no string) string {
	if b, _ := v.(bool); b {
		return yes
	}
	return no
}
