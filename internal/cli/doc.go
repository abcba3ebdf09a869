// Package cli turns the launcher's snake_case command-line flags into an
// app.Config. It validates user input and maps usage problems to exit code 2
// through ExitError.
package cli
