// Package controlplane derives the engine's management endpoint from a
// profile document.
//
// Only two top-level keys are inspected: external-controller and secret.
// Every other key belongs to the engine and is ignored. Discovery is
// best-effort: unreadable or malformed documents simply yield no endpoint,
// so a broken profile never blocks supervision.
package controlplane
