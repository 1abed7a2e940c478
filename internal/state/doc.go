// Package state holds the status snapshot shared between the session loop
// and the control surface.
package state
