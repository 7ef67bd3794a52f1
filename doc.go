/*
Package max supervises a federation of data-sync nodes.

A node is one of three levels. An Installation wraps a connector and loads its
entities into a queryable store. A Workspace groups installations and fans
queries out to them. The Global node groups workspaces. Every level exposes the
same lifecycle (Start, Stop, Health) and is driven by a supervisor owned by its
parent, whatever the provider that hosts it: in the same process, in a child
process over a unix socket, or on another host over a websocket.

# Usage

The max binary runs one daemon per project and talks to it over a unix socket.
The same workspace can be embedded in a Go program with Open:

	eng, err := max.Open(ctx, "./my-project")
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(ctx)

	rec, err := eng.Sync(ctx, "crm")
	if err != nil {
		log.Fatal(err)
	}
	log.Println("sync", rec.Status)

	res, err := eng.Query(ctx, domain.Query{Entity: "user", Match: map[string]any{"team": "core"}})

A project is a directory holding max.yaml (or max.yml, max.json, max.toml):

	workspace: acme
	restart: escalate
	store:
	  kind: sqlite
	installations:
	  crm:
	    kind: inprocess
	    options:
	      connector: loam
	      schedule: "@every 10m"
	      settings:
	        path: ./crm
	autostart: [crm]

# Packages

  - pkg/domain: ids, lifecycle states, errors, events and sync records.
  - pkg/supervisor: children lifecycle, restart policies, health.
  - pkg/dispatch and pkg/transport: method dispatch over memory, stream and websocket transports.
  - pkg/protocol: the node interfaces and their dispatchers and clients.
  - pkg/node: Installation, Workspace and Global.
  - pkg/adapters: providers, connectors, stores and the HTTP and MCP surfaces.
*/
package max
