package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the lifecycle engine.
const (
	TypeProjectCreated    = "project.created"
	TypeStatusChanged     = "project.status.changed"
	TypeBlueprintAttached = "blueprint.attached"
	TypeCostingAttached   = "costing.attached"
	TypeRevisionRequested = "revision.requested"
	TypeRevisionResolved  = "revision.resolved"
	TypeScheduleCreated   = "payment.schedule.created"
	TypeStageUpdated      = "payment.stage.updated"
	TypeProjectCancelled  = "project.cancelled"
)

// Writer appends to the append-only event log. Append always runs inside
// the caller's transaction so events commit together with the mutation
// they describe.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
