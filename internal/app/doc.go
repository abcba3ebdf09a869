// Package app contains the launcher lifecycle. It defines the App struct, its
// configuration, and the run sequence (train dir preparation, config
// resolution, role resolution, delegation to the trainer) decoupled from any
// specific entrypoint like a CLI.
package app
