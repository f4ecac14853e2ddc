package config

// Defaults returns the stock configuration: builtins classified, trust
// locked down, audit on, API off until configured.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace: "~/.toolgate/workspace",
			LogLevel:  "info",
		},
		Trust: TrustConfig{
			SafeTools:        []string{"echo", "sysinfo"},
			DestructiveTools: []string{"file_write"},
			VerifyOnStartup:  false,
		},
		Workflow: WorkflowConfig{
			MaxConcurrency:    4,
			FailFast:          false,
			DefaultMaxRetries: 2,
			RetryDelaySeconds: 1,
		},
		Maintenance: MaintenanceConfig{
			Tasks: []MaintenanceTask{
				{Name: "audit_prune", IntervalSeconds: 3600},
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8090,
		},
		Audit: AuditConfig{
			Enabled:       true,
			DBPath:        "~/.toolgate/audit.db",
			RetentionDays: 90,
		},
	}
}
