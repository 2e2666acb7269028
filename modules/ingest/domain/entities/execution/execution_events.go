package execution

import "github.com/google/uuid"

type CreatedEvent struct {
	Result *Execution
}

type StatusChangedEvent struct {
	ExecutionID uuid.UUID
	Status      Status
	Reason      string
}

type LayerImportedEvent struct {
	ExecutionID uuid.UUID
	LayerName   string
	Alternate   string
}

type RolledBackEvent struct {
	ExecutionID uuid.UUID
	LayerName   string
	TableName   string
}
