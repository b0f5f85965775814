// Package middleware contains HTTP middleware for the Fiber admin application.
//
// # Components
//
//   - apikey: API key validation protecting the admin endpoints.
//   - rayid: Generates a unique Request ID (RayID) for every incoming request,
//     injecting it into the context and response headers for tracing.
//
// RayID must be registered first so every later log line can carry the ray id.
package middleware
