// Package pipeline defines the format-agnostic Configuration Bundle for a
// training run (model, train config, train input reader and the optional graph
// rewriter) together with the Loader interface and the Resolver that picks
// between a combined pipeline file and three separate files.
//
// Concrete file formats live in separate packages: internal/hcl and
// internal/yamlcfg.
package pipeline
