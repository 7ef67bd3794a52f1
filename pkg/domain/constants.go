package domain

// NodeKind identifies the federation level a node belongs to.
type NodeKind string

const (
	KindInstallation NodeKind = "installation"
	KindWorkspace    NodeKind = "workspace"
	KindGlobal       NodeKind = "global"
)

// InstallationID identifies an installation within its workspace.
type InstallationID string

// WorkspaceID identifies a workspace within the global node.
type WorkspaceID string

// Field constants for mapstructure and JSON standardization.
const (
	// KeyConnector is the option key naming the connector factory of an installation.
	KeyConnector = "connector"
	// KeySchedule is the option key holding a cron expression for periodic syncs.
	KeySchedule = "schedule"
	// KeySettings is the option key holding connector-specific settings.
	KeySettings = "settings"
)
