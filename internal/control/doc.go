// Package control composes the profile repository, the engine supervisor
// and the control-plane resolver into the operations the CLI and the MQTT
// command topic expose: bootstrap, start the active profile, switch
// profile, stop, and report status and endpoint.
//
// Engine lifecycle events are fanned out to the optional sinks (journal,
// status publisher, metric writer). A failing sink is logged and never
// affects the engine.
package control
