package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand — run the background core as a local daemon.
type ServeCommand struct {
	Host     string `long:"host" description:"Override daemon bind host"`
	Port     int    `long:"port" description:"Override daemon port"`
	LogLevel string `long:"log-level" description:"Override log level"`

	globals *GlobalFlags
	version string
}

// StatusCommand — show the running daemon's session, buffer, and config summary.
type StatusCommand struct {
	globals *GlobalFlags
	version string

	baseURL string // injectable for testing; empty means resolve from config
}

// StartCommand — start a tracking session for a user.
type StartCommand struct {
	User    string `long:"user" description:"Tracked user name (required)"`
	Project string `long:"project" description:"Project tag"`

	globals *GlobalFlags
	version string

	baseURL string
}

// StopCommand — stop the active tracking session.
type StopCommand struct {
	Notes string `long:"notes" description:"End-of-session notes"`

	globals *GlobalFlags
	version string

	baseURL string
}

// FlushCommand — flush the pending activity buffer immediately.
type FlushCommand struct {
	globals *GlobalFlags
	version string

	baseURL string
}

// DashboardCommand — fetch the remote dashboard aggregate for a user.
type DashboardCommand struct {
	User string `long:"user" description:"Tracked user name (required)"`

	globals *GlobalFlags
	version string

	baseURL string
}
