package comexstat

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// The API wraps payloads inconsistently across endpoints ({"data":{"list":
// [...]}}, {"data":[...]}, bare arrays), so row extraction probes the known
// envelope keys.

func extractRows(body []byte) ([]map[string]any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return rowsFromPayload(payload)
}

func rowsFromPayload(payload any) ([]map[string]any, error) {
	switch typed := payload.(type) {
	case []any:
		return toRowList(typed), nil
	case map[string]any:
		for _, key := range []string{"data", "list", "results", "items"} {
			if raw, ok := typed[key]; ok {
				return rowsFromPayload(raw)
			}
		}
		return nil, errors.New("comexstat: unexpected response shape")
	default:
		return nil, errors.New("comexstat: unexpected response type")
	}
}

// extractObject unwraps a single-object payload, tolerating the same
// envelopes as extractRows.
func extractObject(body []byte) (map[string]any, error) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	for {
		object, ok := payload.(map[string]any)
		if !ok {
			break
		}
		inner, ok := object["data"]
		if !ok {
			return object, nil
		}
		payload = inner
	}
	if rows, err := rowsFromPayload(payload); err == nil && len(rows) > 0 {
		return rows[0], nil
	}
	return nil, errors.New("comexstat: unexpected response shape")
}

func toRowList(items []any) []map[string]any {
	rows := make([]map[string]any, 0, len(items))
	for _, item := range items {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func getString(row map[string]any, keys ...string) (string, bool) {
	value, ok := getValue(row, keys...)
	if !ok {
		return "", false
	}
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return "", false
		}
		return trimmed, true
	case json.Number:
		return typed.String(), true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case int:
		return strconv.Itoa(typed), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	default:
		return "", false
	}
}

func getFloat(row map[string]any, keys ...string) (float64, bool) {
	value, ok := getValue(row, keys...)
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func getValue(row map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if value, ok := row[key]; ok {
			return value, true
		}
	}
	for rowKey, value := range row {
		for _, key := range keys {
			if strings.EqualFold(rowKey, key) {
				return value, true
			}
		}
	}
	return nil, false
}
