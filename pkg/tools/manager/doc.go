// Package manager owns the provider lifecycle. It turns a provider
// catalog into connected adapters, publishes a unified name-keyed action
// catalog as an immutable snapshot, dispatches invocations, and applies
// reloads by diffing provider fingerprints so unchanged providers are
// never reconnected.
package manager
