// Package mcp exposes a read-mostly view of one principal's collections
// over the Model Context Protocol.
//
// The server is started per process with a fixed owner (see the
// `collectiond mcp --owner` command). Tools accept a collection id or
// name and always go through the lifecycle coordinator, so ownership is
// checked exactly as it is on the HTTP API.
package mcp
