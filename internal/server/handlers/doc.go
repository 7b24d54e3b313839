// Package handlers contains HTTP handlers for the CaseLoom HTTP API.
//
// This package provides handlers for:
//   - Document intake: upload, listing, preview/download links, delete, stats
//   - Case context artifacts: summary and narrative
//   - Summary generation triggers with admission control
//   - The websocket progress stream
//   - Health and metrics endpoints (monitoring)
//
// All handlers follow a consistent pattern for error handling and response formatting,
// using the foundation/errors package for structured error handling and the
// server/responses package for standardized HTTP responses.
package handlers
