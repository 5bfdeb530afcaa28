// Package internal contains helper utilities that are intentionally private
// to authflux, covering secure secret generation and the refresh-token wire
// codec.
//
// # What this package must NOT do
//
//   - Export types that appear in the public authflux API.
//   - Be imported by any package outside the authflux module.
package internal
