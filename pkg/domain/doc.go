/*
Package domain contains the core types shared by every level of the max federation.

It defines node identities, the lifecycle states every supervised node moves through,
the RPC envelopes carried by transports, the persisted shape of sync runs and the
error taxonomy used across supervisors, dispatchers and providers. This package is kept
pure and free of external dependencies like I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - InstallationID / WorkspaceID: Parent-assigned node identities.
  - Domain: Closed choice between local (single installation) and global (multi-tenant) scope.
  - LifecycleState / Health: The Supervised contract's observable state.
  - DeploymentConfig: Tagged provider selection plus opaque provider options.
  - Request / Response: Dispatcher envelopes.
  - SyncRecord: Durable, name-based snapshot of a synchronization run.
*/
package domain
