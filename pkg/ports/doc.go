/*
Package ports defines the driven ports (interfaces) of the max federation.

These interfaces decouple supervision from hosting, transports, storage and
connectors, so a node behaves the same whether it lives in the current process,
a subprocess or a remote machine.

# Key Interfaces

  - Supervised: the uniform lifecycle contract of every node.
  - NodeProvider: creates and destroys nodes for a deployment strategy.
  - Transport / Conn: the two ends of a request/response channel.
  - Connector, Loader, Resolver: the external-API side of an installation.
  - Engine, DataStore: the storage and query side of an installation.
  - SyncStore: durable sync run state.
  - DistributedLocker: cross-process lifecycle serialization.
*/
package ports
