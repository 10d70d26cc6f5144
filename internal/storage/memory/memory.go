// Package memory provides in-process repositories for tests and local
// development. Every repository is safe for concurrent use and honors the
// same conditional-update contracts as the PostgreSQL implementation.
package memory
