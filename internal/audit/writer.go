package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit entries. Record must run inside the same transaction
// as the mutation it describes, so a rollback discards the entry too.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Record inserts one audit row. Old and new values are marshalled to JSON;
// nil values are stored as NULL.
func (w Writer) Record(ctx context.Context, tx *sql.Tx, entityKind, entityID, action, actorID string, oldValue, newValue any, description string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	oldJSON, err := marshalValue(oldValue)
	if err != nil {
		return fmt.Errorf("marshal audit old value: %w", err)
	}
	newJSON, err := marshalValue(newValue)
	if err != nil {
		return fmt.Errorf("marshal audit new value: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO audit_log(ts,entity_kind,entity_id,action,actor_id,old_value,new_value,description) VALUES (?,?,?,?,?,?,?,?)`,
		ts, entityKind, nullable(entityID), action, actorID, oldJSON, newJSON, nullable(description))
	return err
}

func marshalValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
