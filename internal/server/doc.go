// Package server implements the MCP (Model Context Protocol) server for receipt rectification.
//
// This package provides a JSON-RPC 2.0 server that exposes the receipt pipeline
// through the MCP protocol, so an assistant can flatten a photographed receipt
// before reading it, or inspect why detection failed.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Basic Image Information:
//   - image_load: Load image and get metadata
//   - image_dimensions: Get width and height
//
// Detection Diagnostics:
//   - image_edge_detect: The edge map the quadrilateral search runs on
//   - receipt_detect: Winning quad and ordered corners, with an overlay
//
// Output:
//   - receipt_rectify: Flattened receipt as JPEG
//   - receipt_crop: Manual rectangular crop as JPEG
//
// # Image Caching
//
// The server maintains an in-memory cache of decoded images. Images are cached
// by path and reused across tool calls, so detecting and then rectifying the
// same photo decodes it once. The cache persists for the lifetime of the
// server process.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32602 (bad arguments or unknown tool), -32000 (tool execution
//     failure) or -32601 (unknown method)
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// Not finding a receipt is not an error: receipt_rectify returns the original
// with was_rectified false, and receipt_detect returns found false.
//
// # Usage
//
//	srv := server.New(server.WithLogger(logger))
//	if err := srv.Run(); err != nil {
//	    return err
//	}
//
// stdout carries the protocol, so loggers must write elsewhere.
package server
