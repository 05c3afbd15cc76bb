// Package kurobako provides the core data model and contracts for a
// black-box optimization benchmarking harness.
//
// A benchmark pairs a solver (an optimization algorithm proposing parameter
// assignments) with a problem (an objective evaluating those assignments) and
// drives a budgeted ask/tell loop between them, recording every interaction
// as a reproducible trace.
//
// # Main Packages
//
// For running studies, see the runner package.
//
// For communicating with external solver and problem processes over the
// framed-JSON protocol, see the epi package.
//
// For study recipes (the JSON documents describing what to run), see the
// study package.
//
// # Configuration
//
// The CLI reads configuration from environment variables. See the config
// package for a complete list.
package kurobako
