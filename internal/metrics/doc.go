// Package metrics provides an observability framework for intake pipeline metrics.
//
// # Design Philosophy
//
// This package implements the Null Object pattern to enable metrics collection
// without requiring explicit nil checks throughout the codebase. By default,
// all components use NoopRecorder which implements the Recorder interface with
// no-op methods that inline to nothing at compile time.
//
// # Architecture
//
// The metrics system has three components:
//
//  1. Recorder interface - Defines all metrics operations
//  2. NoopRecorder - Default implementation that does nothing (zero overhead)
//  3. PrometheusRecorder - Prometheus adapter served on the admin listener
//
// # Usage Pattern
//
// Components receive a Recorder through dependency injection:
//
//	type Coordinator struct {
//	    recorder metrics.Recorder
//	}
//
// The daemon decides at startup which implementation to inject based on the
// monitoring configuration; everything downstream is oblivious.
package metrics
