/*
Package migrate coordinates the migration of databases from a single-node
CouchDB deployment to a clustered one.

This package includes the following main components:

  - Orchestrator: Triggers a replication job per database and supervises it.

  - Monitor: Polls document counts and detects completion or stall of one
    in-flight replication.

  - Rebuilder: Triggers view index recomputation with a bounded wait.

  - Deleter: Gates deletion of source databases on a parity check.
*/
package migrate
