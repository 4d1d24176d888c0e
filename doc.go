// Package memcore is a persistent memory engine for coding assistants.
//
// It layers a recency cache over a SQLite store and keeps four kinds of
// long-lived memory: indexed source files with semantic embeddings,
// architectural decisions, learned code patterns, and working-context
// snapshots. On top of those it offers similarity search, conflict
// warnings when new code contradicts recorded decisions, git staleness
// detection, and déjà-vu recall of past queries.
//
// The engine is a library: the host supplies the Embedder and drives the
// operations; transport, prompting, and model access stay outside.
package memcore
