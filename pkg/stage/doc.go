// Package stage binds a processing function to an input and an output
// channel on the message bus. A Runner consumes one message per RunOnce,
// isolates failures and panics of the function, and forwards the result.
package stage
