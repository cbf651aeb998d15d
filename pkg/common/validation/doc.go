// Package validation provides the checks used by pacer constructors and the
// configuration loader.
//
// Every function returns nil on success or a *errors.ValidationError that
// names the module and field, so a misconfigured bus reports something like:
//
//	bus: invalid poll_interval=0s (must be positive) - use a duration such as 1s or 500ms
package validation
