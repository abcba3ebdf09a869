// Package hcl provides the concrete HCL implementation of the pipeline.Loader
// interface. It is responsible for file parsing, expression evaluation against
// the process environment, and translation into the format-agnostic
// pipeline model.
package hcl
