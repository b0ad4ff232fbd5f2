// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"encoding/json"
	"fmt"
)

// Type identifies the event family carried by an envelope (§6.1).
type Type string

const (
	TypeExtensionAdded       Type = "ExtensionAdded"
	TypeExtensionRemoved     Type = "ExtensionRemoved"
	TypeExtensionInstalled   Type = "ExtensionInstalled"
	TypeExtensionUninstalled Type = "ExtensionUninstalled"
	TypeContainerAdded       Type = "ContainerAdded"
	TypeContainerRemoved     Type = "ContainerRemoved"
	TypeContainerUpdated     Type = "ContainerUpdated"
	TypeHandlerSet           Type = "HandlerSet"
	TypeHandlerRemoved       Type = "HandlerRemoved"
	TypeSearchEngineAdded    Type = "SearchEngineAdded"
	TypeSearchEngineRemoved  Type = "SearchEngineRemoved"
	TypeSearchEngineDefault  Type = "SearchEngineDefault"
	TypePrefSet              Type = "PrefSet"
	TypePrefRemoved          Type = "PrefRemoved"
	TypeTabSent              Type = "TabSent"
	TypeTabReceived          Type = "TabReceived"
)

// Event is a tagged payload: a type tag plus its raw JSON data.
// Unknown type tags are preserved verbatim (forward compatibility per
// §6.1) but are never projected — see lib/eventlog.
type Event struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent constructs an Event by marshaling a typed payload. Returns
// an error only if payload cannot be marshaled to JSON, which does not
// happen for the payload structs defined in this package.
func NewEvent(eventType Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: data}, nil
}

// Decode unmarshals the event's data into dst, which should be a
// pointer to one of the payload structs below.
func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Data, dst)
}

// ExtensionAddedPayload is the payload for TypeExtensionAdded.
type ExtensionAddedPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// ExtensionRemovedPayload is the payload for TypeExtensionRemoved.
type ExtensionRemovedPayload struct {
	ID string `json:"id"`
}

// ExtensionSource is the tagged source of an installed extension.
type ExtensionSource struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	SourceGit   Type = "Git"
	SourceAMO   Type = "Amo"
	SourceLocal Type = "Local"
)

// GitSource is the payload for ExtensionSource{Type: SourceGit}.
type GitSource struct {
	URL      string `json:"url"`
	RefSpec  string `json:"ref_spec"`
	BuildCmd string `json:"build_cmd,omitempty"`
}

// AMOSource is the payload for ExtensionSource{Type: SourceAMO}.
type AMOSource struct {
	AMOSlug string `json:"amo_slug"`
}

// LocalSource is the payload for ExtensionSource{Type: SourceLocal}.
type LocalSource struct {
	OriginalPath string `json:"original_path"`
}

// ExtensionInstalledPayload is the payload for TypeExtensionInstalled.
// XPIData is base64(zstd-level-19(raw)) — see lib/archive for the
// compression helper used by the profile collaborator boundary.
type ExtensionInstalledPayload struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Source  ExtensionSource `json:"source"`
	XPIData string          `json:"xpi_data"`
}

// ExtensionUninstalledPayload is the payload for TypeExtensionUninstalled.
type ExtensionUninstalledPayload struct {
	ID string `json:"id"`
}

// Container color and icon enums (§6.1).
const (
	ColorBlue      = "blue"
	ColorTurquoise = "turquoise"
	ColorGreen     = "green"
	ColorYellow    = "yellow"
	ColorOrange    = "orange"
	ColorRed       = "red"
	ColorPink      = "pink"
	ColorPurple    = "purple"
)

const (
	IconFingerprint = "fingerprint"
	IconBriefcase   = "briefcase"
	IconDollar      = "dollar"
	IconCart        = "cart"
	IconVacation    = "vacation"
	IconGift        = "gift"
	IconFood        = "food"
	IconFruit       = "fruit"
	IconPet         = "pet"
	IconTree        = "tree"
	IconChill       = "chill"
	IconCircle      = "circle"
	IconFence       = "fence"
)

// ContainerAddedPayload is the payload for TypeContainerAdded.
type ContainerAddedPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// ContainerRemovedPayload is the payload for TypeContainerRemoved.
type ContainerRemovedPayload struct {
	ID string `json:"id"`
}

// ContainerUpdatedPayload is the payload for TypeContainerUpdated.
// Null fields are no-ops on projection.
type ContainerUpdatedPayload struct {
	ID    string  `json:"id"`
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

// HandlerSetPayload is the payload for TypeHandlerSet.
type HandlerSetPayload struct {
	Protocol string `json:"protocol"`
	Handler  string `json:"handler"`
}

// HandlerRemovedPayload is the payload for TypeHandlerRemoved.
type HandlerRemovedPayload struct {
	Protocol string `json:"protocol"`
}

// SearchEngineAddedPayload is the payload for TypeSearchEngineAdded.
type SearchEngineAddedPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SearchEngineRemovedPayload is the payload for TypeSearchEngineRemoved.
type SearchEngineRemovedPayload struct {
	ID string `json:"id"`
}

// SearchEngineDefaultPayload is the payload for TypeSearchEngineDefault.
type SearchEngineDefaultPayload struct {
	ID string `json:"id"`
}

// PrefValue holds a boolean, signed integer, or string preference
// value. On the wire (§6.1) it marshals as the bare JSON literal —
// true, 42, "test" — with no type tag, matching the original
// untagged Rust enum it's drawn from. Type and Value exist for
// consumers that need a discriminator, such as lib/eventlog's
// materialized projection picking a SQL column; they're populated by
// UnmarshalJSON from the literal's shape, never read off the wire
// directly.
type PrefValue struct {
	Type  string
	Value any
}

const (
	PrefValueBool   = "bool"
	PrefValueInt    = "int"
	PrefValueString = "string"
)

// MarshalJSON emits the bare literal, not {type, value}.
func (v PrefValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Value)
}

// UnmarshalJSON sniffs the literal's Go type to recover Type. JSON
// numbers always decode as float64; since PrefValue's only numeric
// case is a signed integer, it's narrowed to int64.
func (v *PrefValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch val := raw.(type) {
	case bool:
		v.Type = PrefValueBool
		v.Value = val
	case float64:
		v.Type = PrefValueInt
		v.Value = int64(val)
	case string:
		v.Type = PrefValueString
		v.Value = val
	default:
		return fmt.Errorf("envelope: unsupported pref value %T", raw)
	}
	return nil
}

// PrefSetPayload is the payload for TypePrefSet.
type PrefSetPayload struct {
	Key   string    `json:"key"`
	Value PrefValue `json:"value"`
}

// PrefRemovedPayload is the payload for TypePrefRemoved.
type PrefRemovedPayload struct {
	Key string `json:"key"`
}

// TabSentPayload is the payload for TypeTabSent.
type TabSentPayload struct {
	ToDevice string `json:"to_device"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// TabReceivedPayload is the payload for TypeTabReceived.
type TabReceivedPayload struct {
	EventID string `json:"event_id"`
}
