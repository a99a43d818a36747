// Package studioproto is the wire contract between the simulation host and
// the editor. Every message is a JSON Envelope sent as one WebSocket text frame.
package studioproto

import (
	"encoding/json"
	"fmt"
)

// Message type constants.
const (
	// host -> editor
	TypeState    = "state"
	TypeBindings = "bindings"

	// editor -> host, fire and forget
	TypePath               = "path"
	TypeSettings           = "settings"
	TypeHotkey             = "hotkey"
	TypeCustomInfoTemplate = "custom_info_template"
	TypeClearWatch         = "clear_watch"
	TypeRecord             = "record"

	// editor -> host request, host -> editor response
	TypeDataRequest  = "data_request"
	TypeDataResponse = "data_response"
)

// DataKind selects what a data request asks for.
type DataKind string

// Data request kinds.
const (
	DataConsoleCommand     DataKind = "console_command"
	DataModURL             DataKind = "mod_url"
	DataModInfo            DataKind = "mod_info"
	DataExactGameInfo      DataKind = "exact_game_info"
	DataRawInfo            DataKind = "raw_info"
	DataGameState          DataKind = "game_state"
	DataCustomInfoTemplate DataKind = "custom_info_template"
	DataSetAutoComplete    DataKind = "set_autocomplete"
	DataInvokeAutoComplete DataKind = "invoke_autocomplete"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: typ}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty %s payload", e.Type)
	}
	return json.Unmarshal(e.Payload, v)
}

// Vector2 is a pair of floats.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// State is the per-tick snapshot pushed to the editor.
type State struct {
	CurrentLine           int     `json:"currentLine"`
	CurrentLineSuffix     string  `json:"currentLineSuffix"`
	CurrentFrameInTas     int     `json:"currentFrameInTas"`
	TotalFrames           int     `json:"totalFrames"`
	SaveStateLine         int     `json:"saveStateLine"`
	PlaybackState         string  `json:"playbackState"`
	GameInfo              string  `json:"gameInfo"`
	LevelName             string  `json:"levelName"`
	ChapterTime           string  `json:"chapterTime"`
	ShowSubpixelIndicator bool    `json:"showSubpixelIndicator"`
	SubpixelRemainder     Vector2 `json:"subpixelRemainder"`
}

// Settings are the editor-side game settings synchronized to the host.
type Settings struct {
	FastForwardSpeed      float64 `json:"fastForwardSpeed"`
	SlowForwardSpeed      float64 `json:"slowForwardSpeed"`
	InfoSubpixelIndicator bool    `json:"infoSubpixelIndicator"`
}

// PathPayload names the main script the editor has open.
type PathPayload struct {
	Path string `json:"path"`
}

// HotkeyPayload is a hotkey press or release.
type HotkeyPayload struct {
	Hotkey   HotkeyID `json:"hotkey"`
	Released bool     `json:"released"`
}

// TemplatePayload carries a custom info template.
type TemplatePayload struct {
	Template string `json:"template"`
}

// RecordPayload asks the host to record the TAS into FileName.
type RecordPayload struct {
	FileName string `json:"fileName"`
}

// DataRequest asks the host for data. ID correlates the response.
type DataRequest struct {
	ID      string          `json:"id"`
	Kind    DataKind        `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DataResponse answers a DataRequest. A null payload means no data.
type DataResponse struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConsoleCommandArgs is the payload of DataConsoleCommand.
type ConsoleCommandArgs struct {
	Simple bool `json:"simple"`
}

// RawInfoArgs is the payload of DataRawInfo.
type RawInfoArgs struct {
	Template   string `json:"template"`
	AlwaysList bool   `json:"alwaysList"`
}

// AutoCompleteArgs is the payload of the autocomplete requests.
type AutoCompleteArgs struct {
	Args  string `json:"args"`
	Index int    `json:"index"`
}

// AutoCompleteEntry is one suggestion. Prefix is the text before Name that is
// already typed; IsDone means the entry completes the argument.
type AutoCompleteEntry struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix,omitempty"`
	Extra  string `json:"extra,omitempty"`
	IsDone bool   `json:"isDone"`
}

// GameState is the structured snapshot returned by DataGameState.
type GameState struct {
	Frame     int     `json:"frame"`
	Level     string  `json:"level"`
	Scene     string  `json:"scene"`
	Position  Vector2 `json:"position"`
	Speed     Vector2 `json:"speed"`
	Remainder Vector2 `json:"remainder"`
	Saving    bool    `json:"saving"`
	Loading   bool    `json:"loading"`
}
