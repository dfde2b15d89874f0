package config

// DefaultUsers returns the built-in tracked user names. Deployments with a
// different roster override this in the config file.
func DefaultUsers() []string {
	return []string{"Emircan", "Mükremin", "Umut", "Guest"}
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Endpoint:     "",
			DeploymentID: "",
			SharedSecret: "",
			Telemetry:    false,
		},
		Privacy: PrivacyConfig{
			ConsentLogging: false,
			DomainOnly:     false,
			AnonymizeURLs:  false,
			OmitTitles:     false,
		},
		Tracking: TrackingConfig{
			Users:       DefaultUsers(),
			IdleMinutes: DefaultIdleMinutes,
		},
		Daemon: DaemonConfig{
			Host: "127.0.0.1",
			Port: 8740,
		},
		Storage: StorageConfig{
			Path:       "~/.config/nobletrack",
			SQLiteFile: "nobletrack.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
