// Package recovery defines the core types and interfaces shared by the
// thread recovery engine: work items, progress records, extraction results,
// failure records, and the outcome variant returned by the extraction
// pipeline.
package recovery
