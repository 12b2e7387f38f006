package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/InsureGuide/internal/models"
)

// encodeStateData serializes state data; an empty map is stored as NULL.
func encodeStateData(data map[string]string) (sql.NullString, error) {
	if len(data) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// decodeStateData parses stored state data. Corrupt data yields an empty map
// so the session can still be loaded and repaired.
func decodeStateData(sessionID string, raw []byte) map[string]string {
	data := make(map[string]string)
	if len(raw) == 0 {
		return data
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		slog.Error("store.decodeStateData: JSON unmarshal failed", "error", err, "sessionID", sessionID)
		return make(map[string]string)
	}
	return data
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanFlowState scans one flow_states row.
func scanFlowState(row rowScanner) (models.FlowState, error) {
	var state models.FlowState
	var raw []byte
	err := row.Scan(&state.SessionID, &state.FlowType, &state.CurrentState, &raw, &state.CreatedAt, &state.UpdatedAt)
	if err != nil {
		return state, err
	}
	state.StateData = decodeStateData(state.SessionID, raw)
	return state, nil
}

// scanFlowStates drains rows into flow states.
func scanFlowStates(rows *sql.Rows) ([]models.FlowState, error) {
	defer rows.Close()
	var out []models.FlowState
	for rows.Next() {
		state, err := scanFlowState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flow state failed: %w", err)
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flow states failed: %w", err)
	}
	return out, nil
}
