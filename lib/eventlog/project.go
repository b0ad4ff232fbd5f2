// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/meshfox/meshfox/lib/envelope"
)

// project applies env to its family's materialized-state table,
// implementing the per-family rules of §4.5. Unknown event types are
// preserved in applied_events (forward compatibility, §6.1) but are
// never projected: there is no family table to project them into.
func project(conn *sqlite.Conn, env envelope.Envelope, localDevice string) error {
	switch env.Event.Type {
	case envelope.TypeExtensionAdded:
		return projectExtensionAdded(conn, env)
	case envelope.TypeExtensionInstalled:
		return projectExtensionInstalled(conn, env)
	case envelope.TypeExtensionRemoved:
		return projectDeleteByID(conn, "extensions", env.Event, decodeExtensionRemoved)
	case envelope.TypeExtensionUninstalled:
		return projectExtensionUninstalled(conn, env.Event)
	case envelope.TypeContainerAdded:
		return projectContainerAdded(conn, env)
	case envelope.TypeContainerUpdated:
		return projectContainerUpdated(conn, env)
	case envelope.TypeContainerRemoved:
		return projectDeleteByID(conn, "containers", env.Event, decodeContainerRemoved)
	case envelope.TypeHandlerSet:
		return projectHandlerSet(conn, env)
	case envelope.TypeHandlerRemoved:
		return projectHandlerRemoved(conn, env.Event)
	case envelope.TypeSearchEngineAdded:
		return projectSearchEngineAdded(conn, env)
	case envelope.TypeSearchEngineRemoved:
		return projectDeleteByID(conn, "search_engines", env.Event, decodeSearchEngineRemoved)
	case envelope.TypeSearchEngineDefault:
		return projectSearchEngineDefault(conn, env.Event)
	case envelope.TypePrefSet:
		return projectPrefSet(conn, env)
	case envelope.TypePrefRemoved:
		return projectPrefRemoved(conn, env.Event)
	case envelope.TypeTabSent:
		return projectTabSent(conn, env, localDevice)
	case envelope.TypeTabReceived:
		return projectTabReceived(conn, env.Event)
	default:
		return nil
	}
}

// rankOf extracts the three fields of §4.5's total replay order —
// clock sum, canonical timestamp, device id — in the same precedence
// envelope.Less uses. Upserts into a mutable projection table compare
// this tuple against the row's stored rank and only apply when the
// incoming envelope sorts later, so that two peers applying the same
// concurrent envelopes in different arrival orders converge on the
// same final row (§8 P4, S2).
func rankOf(env envelope.Envelope) (sum uint64, ts string, device string) {
	return env.Clock.Sum(), env.Timestamp.Canonical(), env.Device.String()
}

func projectExtensionAdded(conn *sqlite.Conn, env envelope.Envelope) error {
	var p envelope.ExtensionAddedPayload
	if err := env.Event.Decode(&p); err != nil {
		return fmt.Errorf("decode ExtensionAdded: %w", err)
	}
	sum, ts, device := rankOf(env)
	return sqlitex.Execute(conn,
		`INSERT INTO extensions (id, name, url, rank_sum, rank_ts, rank_device) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = excluded.url,
		   rank_sum = excluded.rank_sum, rank_ts = excluded.rank_ts, rank_device = excluded.rank_device
		 WHERE (excluded.rank_sum, excluded.rank_ts, excluded.rank_device) > (extensions.rank_sum, extensions.rank_ts, extensions.rank_device)`,
		&sqlitex.ExecOptions{Args: []any{p.ID, p.Name, nullableString(p.URL), sum, ts, device}})
}

func projectExtensionInstalled(conn *sqlite.Conn, env envelope.Envelope) error {
	var p envelope.ExtensionInstalledPayload
	if err := env.Event.Decode(&p); err != nil {
		return fmt.Errorf("decode ExtensionInstalled: %w", err)
	}
	if !validExtensionSource(p.Source.Type) {
		return fmt.Errorf("invalid extension source type %q", p.Source.Type)
	}

	sum, ts, device := rankOf(env)
	return sqlitex.Execute(conn,
		`INSERT INTO extensions (id, name, version, source_type, source_data, xpi_data, rank_sum, rank_ts, rank_device)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, version = excluded.version,
		   source_type = excluded.source_type, source_data = excluded.source_data, xpi_data = excluded.xpi_data,
		   rank_sum = excluded.rank_sum, rank_ts = excluded.rank_ts, rank_device = excluded.rank_device
		 WHERE (excluded.rank_sum, excluded.rank_ts, excluded.rank_device) > (extensions.rank_sum, extensions.rank_ts, extensions.rank_device)`,
		&sqlitex.ExecOptions{Args: []any{p.ID, p.Name, p.Version, string(p.Source.Type), string(p.Source.Data), p.XPIData, sum, ts, device}})
}

func validExtensionSource(t envelope.Type) bool {
	return t == envelope.SourceGit || t == envelope.SourceAMO || t == envelope.SourceLocal
}

func decodeExtensionRemoved(event envelope.Event) (string, error) {
	var p envelope.ExtensionRemovedPayload
	if err := event.Decode(&p); err != nil {
		return "", fmt.Errorf("decode ExtensionRemoved: %w", err)
	}
	return p.ID, nil
}

func projectExtensionUninstalled(conn *sqlite.Conn, event envelope.Event) error {
	var p envelope.ExtensionUninstalledPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode ExtensionUninstalled: %w", err)
	}
	return sqlitex.Execute(conn, "DELETE FROM extensions WHERE id = ?", &sqlitex.ExecOptions{Args: []any{p.ID}})
}

func projectContainerAdded(conn *sqlite.Conn, env envelope.Envelope) error {
	var p envelope.ContainerAddedPayload
	if err := env.Event.Decode(&p); err != nil {
		return fmt.Errorf("decode ContainerAdded: %w", err)
	}
	if !validContainerColor(p.Color) {
		return fmt.Errorf("invalid container color %q", p.Color)
	}
	if !validContainerIcon(p.Icon) {
		return fmt.Errorf("invalid container icon %q", p.Icon)
	}
	sum, ts, device := rankOf(env)
	return sqlitex.Execute(conn,
		`INSERT INTO containers (id, name, color, icon, rank_sum, rank_ts, rank_device) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, color = excluded.color, icon = excluded.icon,
		   rank_sum = excluded.rank_sum, rank_ts = excluded.rank_ts, rank_device = excluded.rank_device
		 WHERE (excluded.rank_sum, excluded.rank_ts, excluded.rank_device) > (containers.rank_sum, containers.rank_ts, containers.rank_device)`,
		&sqlitex.ExecOptions{Args: []any{p.ID, p.Name, p.Color, p.Icon, sum, ts, device}})
}

// projectContainerUpdated applies a partial field update only when the
// envelope's rank dominates the row's current rank. Because the update
// is applied atomically as a whole (not field-by-field), a dominating
// envelope that sets only name also re-stamps color and icon's rank —
// this is a deliberate simplification short of full per-field CRDT
// merge, adequate because concurrent updates to the same container are
// rare and §8 only requires convergence, not field-level provenance.
func projectContainerUpdated(conn *sqlite.Conn, env envelope.Envelope) error {
	var p envelope.ContainerUpdatedPayload
	if err := env.Event.Decode(&p); err != nil {
		return fmt.Errorf("decode ContainerUpdated: %w", err)
	}

	var sets []string
	var args []any
	if p.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *p.Name)
	}
	if p.Color != nil {
		if !validContainerColor(*p.Color) {
			return fmt.Errorf("invalid container color %q", *p.Color)
		}
		sets = append(sets, "color = ?")
		args = append(args, *p.Color)
	}
	if p.Icon != nil {
		if !validContainerIcon(*p.Icon) {
			return fmt.Errorf("invalid container icon %q", *p.Icon)
		}
		sets = append(sets, "icon = ?")
		args = append(args, *p.Icon)
	}
	if len(sets) == 0 {
		return nil
	}
	sum, ts, device := rankOf(env)
	sets = append(sets, "rank_sum = ?", "rank_ts = ?", "rank_device = ?")
	args = append(args, sum, ts, device)

	query := "UPDATE containers SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ? AND (?, ?, ?) > (rank_sum, rank_ts, rank_device)"
	args = append(args, p.ID, sum, ts, device)

	return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
}

func decodeContainerRemoved(event envelope.Event) (string, error) {
	var p envelope.ContainerRemovedPayload
	if err := event.Decode(&p); err != nil {
		return "", fmt.Errorf("decode ContainerRemoved: %w", err)
	}
	return p.ID, nil
}

func validContainerColor(c string) bool {
	switch c {
	case envelope.ColorBlue, envelope.ColorTurquoise, envelope.ColorGreen, envelope.ColorYellow,
		envelope.ColorOrange, envelope.ColorRed, envelope.ColorPink, envelope.ColorPurple:
		return true
	}
	return false
}

func validContainerIcon(i string) bool {
	switch i {
	case envelope.IconFingerprint, envelope.IconBriefcase, envelope.IconDollar, envelope.IconCart,
		envelope.IconVacation, envelope.IconGift, envelope.IconFood, envelope.IconFruit,
		envelope.IconPet, envelope.IconTree, envelope.IconChill, envelope.IconCircle, envelope.IconFence:
		return true
	}
	return false
}

func projectHandlerSet(conn *sqlite.Conn, env envelope.Envelope) error {
	var p envelope.HandlerSetPayload
	if err := env.Event.Decode(&p); err != nil {
		return fmt.Errorf("decode HandlerSet: %w", err)
	}
	sum, ts, device := rankOf(env)
	return sqlitex.Execute(conn,
		`INSERT INTO handlers (protocol, handler, rank_sum, rank_ts, rank_device) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(protocol) DO UPDATE SET handler = excluded.handler,
		   rank_sum = excluded.rank_sum, rank_ts = excluded.rank_ts, rank_device = excluded.rank_device
		 WHERE (excluded.rank_sum, excluded.rank_ts, excluded.rank_device) > (handlers.rank_sum, handlers.rank_ts, handlers.rank_device)`,
		&sqlitex.ExecOptions{Args: []any{p.Protocol, p.Handler, sum, ts, device}})
}

func projectHandlerRemoved(conn *sqlite.Conn, event envelope.Event) error {
	var p envelope.HandlerRemovedPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode HandlerRemoved: %w", err)
	}
	return sqlitex.Execute(conn, "DELETE FROM handlers WHERE protocol = ?", &sqlitex.ExecOptions{Args: []any{p.Protocol}})
}

func projectSearchEngineAdded(conn *sqlite.Conn, env envelope.Envelope) error {
	var p envelope.SearchEngineAddedPayload
	if err := env.Event.Decode(&p); err != nil {
		return fmt.Errorf("decode SearchEngineAdded: %w", err)
	}
	sum, ts, device := rankOf(env)
	return sqlitex.Execute(conn,
		`INSERT INTO search_engines (id, name, url, rank_sum, rank_ts, rank_device) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = excluded.url,
		   rank_sum = excluded.rank_sum, rank_ts = excluded.rank_ts, rank_device = excluded.rank_device
		 WHERE (excluded.rank_sum, excluded.rank_ts, excluded.rank_device) > (search_engines.rank_sum, search_engines.rank_ts, search_engines.rank_device)`,
		&sqlitex.ExecOptions{Args: []any{p.ID, p.Name, p.URL, sum, ts, device}})
}

func decodeSearchEngineRemoved(event envelope.Event) (string, error) {
	var p envelope.SearchEngineRemovedPayload
	if err := event.Decode(&p); err != nil {
		return "", fmt.Errorf("decode SearchEngineRemoved: %w", err)
	}
	return p.ID, nil
}

func projectSearchEngineDefault(conn *sqlite.Conn, event envelope.Event) error {
	var p envelope.SearchEngineDefaultPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode SearchEngineDefault: %w", err)
	}
	if err := sqlitex.Execute(conn, "UPDATE search_engines SET is_default = 0", nil); err != nil {
		return err
	}
	return sqlitex.Execute(conn, "UPDATE search_engines SET is_default = 1 WHERE id = ?", &sqlitex.ExecOptions{Args: []any{p.ID}})
}

func projectPrefSet(conn *sqlite.Conn, env envelope.Envelope) error {
	var p envelope.PrefSetPayload
	if err := env.Event.Decode(&p); err != nil {
		return fmt.Errorf("decode PrefSet: %w", err)
	}
	if !validPrefValueType(p.Value.Type) {
		return fmt.Errorf("invalid pref value type %q", p.Value.Type)
	}
	valueJSON, err := json.Marshal(p.Value.Value)
	if err != nil {
		return fmt.Errorf("marshal pref value: %w", err)
	}
	sum, ts, device := rankOf(env)
	return sqlitex.Execute(conn,
		`INSERT INTO prefs (key, value_type, value, rank_sum, rank_ts, rank_device) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value_type = excluded.value_type, value = excluded.value,
		   rank_sum = excluded.rank_sum, rank_ts = excluded.rank_ts, rank_device = excluded.rank_device
		 WHERE (excluded.rank_sum, excluded.rank_ts, excluded.rank_device) > (prefs.rank_sum, prefs.rank_ts, prefs.rank_device)`,
		&sqlitex.ExecOptions{Args: []any{p.Key, p.Value.Type, string(valueJSON), sum, ts, device}})
}

func validPrefValueType(t string) bool {
	switch t {
	case envelope.PrefValueBool, envelope.PrefValueInt, envelope.PrefValueString:
		return true
	}
	return false
}

func projectPrefRemoved(conn *sqlite.Conn, event envelope.Event) error {
	var p envelope.PrefRemovedPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode PrefRemoved: %w", err)
	}
	return sqlitex.Execute(conn, "DELETE FROM prefs WHERE key = ?", &sqlitex.ExecOptions{Args: []any{p.Key}})
}

// projectTabSent implements §4.5's split behavior: a tab addressed to
// this device (to_device == localDevice) becomes a pending tab; a tab
// addressed elsewhere is persisted in applied_events (already done by
// the caller) but has no state-table effect.
func projectTabSent(conn *sqlite.Conn, env envelope.Envelope, localDevice string) error {
	var p envelope.TabSentPayload
	if err := env.Event.Decode(&p); err != nil {
		return fmt.Errorf("decode TabSent: %w", err)
	}
	if p.ToDevice != localDevice {
		return nil
	}
	return sqlitex.Execute(conn,
		`INSERT INTO pending_tabs (event_id, url, title, from_device) VALUES (?, ?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{env.ID.String(), p.URL, nullableString(p.Title), env.Device.String()}})
}

func projectTabReceived(conn *sqlite.Conn, event envelope.Event) error {
	var p envelope.TabReceivedPayload
	if err := event.Decode(&p); err != nil {
		return fmt.Errorf("decode TabReceived: %w", err)
	}
	return sqlitex.Execute(conn, "DELETE FROM pending_tabs WHERE event_id = ?", &sqlitex.ExecOptions{Args: []any{p.EventID}})
}

func projectDeleteByID(conn *sqlite.Conn, table string, event envelope.Event, decode func(envelope.Event) (string, error)) error {
	id, err := decode(event)
	if err != nil {
		return err
	}
	return sqlitex.Execute(conn, "DELETE FROM "+table+" WHERE id = ?", &sqlitex.ExecOptions{Args: []any{id}})
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
