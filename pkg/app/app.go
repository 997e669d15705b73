// Package app defines the runtime contracts shared by the executable
// entrypoints (the relayer process and the migration runner).
//
// cmd/* binaries start application components through these minimal
// abstractions without depending on their concrete implementations.
package app

// Runner represents a runnable application component.
type Runner interface {
	Run() error
}
