// Package harness runs YAML conformance scenarios against every backend.
//
// A scenario names a CUE schema catalog, seeds rows, and issues a sequence
// of reads and writes through the database runtime. The same scenario runs
// on the in-memory adapter and on SQLite, each with and without native
// RETURNING, and every backend must produce the same trace.
//
// # Scenario Format
//
//	name: upsert_projects
//	backends: [memory, sqlite3]
//	description: "Conflicting rows are updated, new rows appended"
//	schema: ../schema
//	seed:
//	  accounts:
//	    - { id: 1, email: a@x.io, name: Acme, status: active }
//	steps:
//	  - op: upsert
//	    table: projects
//	    values: { id: 10, account_id: 1, name: A2, position: 0 }
//	    returning: [id, name]
//	    expect:
//	      rows: [{ id: 10, name: A2 }]
//	  - op: transaction
//	    rollback: true
//	    steps:
//	      - op: delete
//	        table: projects
//	assertions:
//	  - type: row_count
//	    table: projects
//	    count: 1
//
// # Operations
//
// query, first, find, count, exists, insert, insert_many, update, delete,
// upsert and transaction. A transaction step runs its nested steps on the
// transaction handle; a transaction nested in another one uses a savepoint.
//
// # Expectations
//
// Row expectations are subset matches: each expected row must have the same
// position in the result and every listed column must match. Numbers
// compare by value, times compare as RFC 3339 strings in UTC. An expected
// error names the error kind (VALIDATION, QUERY, ADAPTER or CONSTRAINT).
//
// # Deterministic Testing
//
// Each backend gets a fresh database and a deterministic clock, so
// timestamps written by the runtime are reproducible and traces can be
// compared against golden files with RunWithGolden.
package harness
