// Package controlapi is the local HTTP control surface. Mutating routes are
// translated into controller intents; reads come from the status store.
//
// Routes:
//
//	GET  /            plain-text status page
//	GET  /status      status snapshot and recent messages (JSON)
//	POST /connect     Connect intent
//	POST /disconnect  Disconnect intent
//	POST /refresh     Refresh intent
//	POST /show        ShowWindow intent
//	POST /exit        Exit intent
//	GET  /settings    current settings
//	PUT  /settings    replace device, discord, display and protocol settings
//	GET  /metrics     Prometheus exposition
package controlapi
