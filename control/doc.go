// Package control
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Configuration, runtime metrics and debug introspection of the offload
// engine.
//
// Provides:
//   - Engine configuration with defaults, file loading and ACCEL_* overrides
//   - Prometheus collectors for launches, io bases, control RPC and polling
//   - Named debug probes for state export
package control
