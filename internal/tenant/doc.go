// Package tenant implements the ownership guard.
//
// A principal is the authenticated identity a request acts as. Every stored
// resource carries its owner in system metadata; a resource is visible only
// when the owner equals the principal. Callers that fail the check must
// report the resource as not found, never as forbidden.
package tenant
