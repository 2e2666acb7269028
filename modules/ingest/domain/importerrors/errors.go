// Package importerrors defines the error taxonomy of the import
// pipeline. Every terminal task failure surfaces one of these types so
// the failure handler can record a stable reason on the execution.
package importerrors

import "fmt"

// SourceUnreadable reports an input that could not be opened or
// contained no layers. Nothing has been dispatched when it is raised.
type SourceUnreadable struct {
	Path string
	Err  error
}

func (e *SourceUnreadable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s is unreadable: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("source %s is unreadable", e.Path)
}

func (e *SourceUnreadable) Unwrap() error { return e.Err }

// SchemaProvisioningError aborts a layer before any fan-out.
type SchemaProvisioningError struct {
	Layer string
	Err   error
}

func (e *SchemaProvisioningError) Error() string {
	return fmt.Sprintf("provisioning schema for layer %s: %v", e.Layer, e.Err)
}

func (e *SchemaProvisioningError) Unwrap() error { return e.Err }

// InvalidFieldDefinition fails a whole field batch; no field of the
// batch is applied.
type InvalidFieldDefinition struct {
	Field  string
	Reason string
}

func (e *InvalidFieldDefinition) Error() string {
	return fmt.Sprintf("invalid field definition %q: %s", e.Field, e.Reason)
}

// BulkLoadFailure carries the loader's stderr verbatim.
type BulkLoadFailure struct {
	Layer  string
	Stderr string
}

func (e *BulkLoadFailure) Error() string {
	return fmt.Sprintf("bulk load of layer %s failed: %s", e.Layer, e.Stderr)
}

// RollbackFailure is reported when compensation could not fully undo a
// layer. It is logged, never propagated.
type RollbackFailure struct {
	Table string
	Err   error
}

func (e *RollbackFailure) Error() string {
	return fmt.Sprintf("rollback of table %s failed: %v", e.Table, e.Err)
}

func (e *RollbackFailure) Unwrap() error { return e.Err }
