package tasks

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/spatialops/importer/pkg/composables"
	"github.com/spatialops/importer/pkg/queue"
)

// Dispatcher enqueues pipeline tasks. Calls participate in the caller's
// transaction when one is on the context, so a task is only visible once
// the surrounding state change commits.
type Dispatcher interface {
	ImportResource(ctx context.Context, p ImportResourcePayload) error
	CreateFields(ctx context.Context, p CreateFieldsPayload) error
	BulkLoad(ctx context.Context, p BulkLoadPayload) error
	Advance(ctx context.Context, p AdvancePayload) error
	Publish(ctx context.Context, p PublishPayload) error
	CreateResource(ctx context.Context, p CreateResourcePayload) error
	Rollback(ctx context.Context, p RollbackPayload) error
}

type QueueDispatcher struct {
	enqueuer queue.Enqueuer
}

func NewQueueDispatcher() *QueueDispatcher {
	return &QueueDispatcher{enqueuer: queue.NewEnqueuer()}
}

func (d *QueueDispatcher) ImportResource(ctx context.Context, p ImportResourcePayload) error {
	return d.enqueue(ctx, importResourceID(p), QueueDefault, KindImportResource, p, 1)
}

func (d *QueueDispatcher) CreateFields(ctx context.Context, p CreateFieldsPayload) error {
	return d.enqueue(ctx, createFieldsID(p), QueueLoad, KindCreateFields, p, 2)
}

func (d *QueueDispatcher) BulkLoad(ctx context.Context, p BulkLoadPayload) error {
	return d.enqueue(ctx, bulkLoadID(p), QueueLoad, KindBulkLoad, p, 2)
}

func (d *QueueDispatcher) Advance(ctx context.Context, p AdvancePayload) error {
	return d.enqueue(ctx, advanceID(p), QueueDefault, KindAdvance, p, 1)
}

func (d *QueueDispatcher) Publish(ctx context.Context, p PublishPayload) error {
	return d.enqueue(ctx, publishID(p), QueueDefault, KindPublish, p, 3)
}

func (d *QueueDispatcher) CreateResource(ctx context.Context, p CreateResourcePayload) error {
	return d.enqueue(ctx, createResourceID(p), QueueDefault, KindCreateResource, p, 2)
}

func (d *QueueDispatcher) Rollback(ctx context.Context, p RollbackPayload) error {
	return d.enqueue(ctx, rollbackID(p), QueueDefault, KindRollback, p, 1)
}

func (d *QueueDispatcher) enqueue(ctx context.Context, id uuid.UUID, queueName, kind string, payload interface{}, maxAttempts int) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s payload", kind)
	}
	_, err = d.enqueuer.Enqueue(ctx, tx, Table(), queue.Task{
		ID:          id,
		Queue:       queueName,
		Kind:        kind,
		Payload:     body,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to enqueue %s", kind)
	}
	return nil
}
