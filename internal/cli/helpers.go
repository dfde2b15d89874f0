package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/runnerr0/nobletrack/internal/config"
)

// loadConfig resolves the effective config: the --config path when given,
// otherwise the default location (created with defaults on first run).
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		return config.LoadOrCreateAt(globals.Config)
	}
	return config.LoadOrCreate()
}

// daemonBaseURL returns the local daemon's base URL for a config.
func daemonBaseURL(cfg *config.Config) string {
	return fmt.Sprintf("http://%s:%d", cfg.Daemon.Host, cfg.Daemon.Port)
}

// resolveBaseURL picks the injected test base URL or derives one from config.
func resolveBaseURL(override string, globals *GlobalFlags) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := loadConfig(globals)
	if err != nil {
		return "", err
	}
	return daemonBaseURL(cfg), nil
}

// daemonHTTP is the client used to talk to the local daemon. Manual flush
// can legitimately take minutes while the delivery pipeline backs off, so
// the timeout is generous.
var daemonHTTP = &http.Client{Timeout: 3 * time.Minute}

// postMessage sends one message to the daemon's message endpoint and
// decodes the JSON response. A connection failure is reported as the
// daemon not running.
func postMessage(baseURL string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	resp, err := daemonHTTP.Post(baseURL+"/api/message", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s (is 'nobletrack serve' running?): %w", baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read daemon response: %w", err)
	}

	var res map[string]any
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode daemon response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := res["error"].(string)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("daemon rejected message: %s", msg)
	}
	return res, nil
}

// messageError extracts the ok/error pair from a message response.
func messageError(res map[string]any) error {
	if ok, _ := res["ok"].(bool); ok {
		return nil
	}
	if msg, _ := res["error"].(string); msg != "" {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("daemon reported failure")
}

// fetchState retrieves the daemon's full state snapshot.
func fetchState(baseURL string) (map[string]any, error) {
	resp, err := daemonHTTP.Get(baseURL + "/api/state")
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s (is 'nobletrack serve' running?): %w", baseURL, err)
	}
	defer resp.Body.Close()

	var state map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode daemon state: %w", err)
	}
	return state, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
