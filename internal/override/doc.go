// Package override maps decoded titles to display customisation.
//
// Two JSON tables are fetched once at startup: a name-keyed table for headset
// titles and an identifier-keyed table for console titles. A table that fails
// to load stays empty; resolution then falls back to defaults.
package override
