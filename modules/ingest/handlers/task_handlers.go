package handlers

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"

	"github.com/spatialops/importer/modules/ingest/services"
	"github.com/spatialops/importer/modules/ingest/tasks"
	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/queue"
)

// ImportTaskHandlers binds every pipeline task kind to its service method
// and owns the transaction boundary of each kind. The worker context must
// carry the database pool.
type ImportTaskHandlers struct {
	imports *services.ImportService
}

func RegisterImportTaskHandlers(mux *queue.Mux, imports *services.ImportService) *ImportTaskHandlers {
	h := &ImportTaskHandlers{imports: imports}
	mux.RegisterFunc(tasks.KindImportResource, h.onImportResource)
	mux.RegisterFunc(tasks.KindCreateFields, h.onCreateFields)
	mux.RegisterFunc(tasks.KindBulkLoad, h.onBulkLoad)
	mux.RegisterFunc(tasks.KindAdvance, h.onAdvance)
	mux.RegisterFunc(tasks.KindPublish, h.onPublish)
	mux.RegisterFunc(tasks.KindCreateResource, h.onCreateResource)
	mux.RegisterFunc(tasks.KindRollback, h.onRollback)
	return h
}

// OnDead plugs into queue.WorkerOptions. It runs outside any transaction.
func (h *ImportTaskHandlers) OnDead(ctx context.Context, task queue.DispatchedTask, cause error) {
	h.imports.HandleDeadTask(ctx, task, cause)
}

func decode[T any](task queue.DispatchedTask) (T, error) {
	var p T
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		return p, errors.Wrapf(err, "failed to decode %s payload", task.Meta.Kind)
	}
	return p, nil
}

// onImportResource runs the whole fan-out in one transaction: the status
// flip and every layer's tasks commit together or not at all.
func (h *ImportTaskHandlers) onImportResource(ctx context.Context, task queue.DispatchedTask) error {
	p, err := decode[tasks.ImportResourcePayload](task)
	if err != nil {
		return err
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		return h.imports.Start(txCtx, p.ExecutionID)
	})
}

// onCreateFields applies the batch and arrives atomically, so a failed
// batch rolls back its own fields together with the arrival.
func (h *ImportTaskHandlers) onCreateFields(ctx context.Context, task queue.DispatchedTask) error {
	p, err := decode[tasks.CreateFieldsPayload](task)
	if err != nil {
		return err
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		if err := h.imports.ApplyFields(txCtx, p); err != nil {
			return err
		}
		return h.imports.ArriveAndContinue(txCtx, p.ExecutionID, p.Layer, p.Alternate)
	})
}

// onBulkLoad keeps the load itself outside any transaction; a load can run
// for many minutes. Only the arrival afterwards is transactional.
func (h *ImportTaskHandlers) onBulkLoad(ctx context.Context, task queue.DispatchedTask) error {
	p, err := decode[tasks.BulkLoadPayload](task)
	if err != nil {
		return err
	}
	if err := h.imports.BulkLoad(ctx, p); err != nil {
		return err
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		return h.imports.ArriveAndContinue(txCtx, p.ExecutionID, p.Layer, p.Alternate)
	})
}

func (h *ImportTaskHandlers) onAdvance(ctx context.Context, task queue.DispatchedTask) error {
	p, err := decode[tasks.AdvancePayload](task)
	if err != nil {
		return err
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		return h.imports.Advance(txCtx, p)
	})
}

func (h *ImportTaskHandlers) onPublish(ctx context.Context, task queue.DispatchedTask) error {
	p, err := decode[tasks.PublishPayload](task)
	if err != nil {
		return err
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		return h.imports.Publish(txCtx, p)
	})
}

func (h *ImportTaskHandlers) onCreateResource(ctx context.Context, task queue.DispatchedTask) error {
	p, err := decode[tasks.CreateResourcePayload](task)
	if err != nil {
		return err
	}
	return composables.InTx(ctx, func(txCtx context.Context) error {
		return h.imports.CreateResource(txCtx, p)
	})
}

// onRollback runs without a wrapping transaction; both compensation steps
// are individually atomic and the task may be re-run.
func (h *ImportTaskHandlers) onRollback(ctx context.Context, task queue.DispatchedTask) error {
	p, err := decode[tasks.RollbackPayload](task)
	if err != nil {
		return err
	}
	return h.imports.Rollback(ctx, p)
}
