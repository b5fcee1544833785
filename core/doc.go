// Package core implements the component model: ports, channels, event
// dispatch, the component lifecycle and fault escalation.
//
// A component is a user Definition paired with a runtime-managed
// Component. Definitions are built by a Constructor which receives a
// *Context used to declare ports, subscribe handlers, create children and
// trigger events. Components only talk through ports joined by channels
// and never run two handlers at once.
package core
