// Package config defines the run configuration for the solver: the HCL
// schema (domain, swept, initial, output blocks), validation of the raw
// values, and the derived constants (split offset, halo width, pyramid
// heights, step counts) that the rest of the pipeline consumes.
package config
