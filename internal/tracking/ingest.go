package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ingestMessage is what a device pushes over the session websocket:
//
//	{"type":"position","lng":13.4,"lat":52.5,"accuracy":12,"timestamp":1700000000000}
//	{"type":"heading","heading":271.5}
//	{"type":"error","source":"geolocation","code":1,"message":"User denied Geolocation"}
type ingestMessage struct {
	Type string `json:"type"`
	Fix
	Heading *float64        `json:"heading"`
	Source  string          `json:"source"`
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// Ingest decodes one device message and applies it to the session.
func (s *Service) Ingest(ctx context.Context, sessionID string, msg []byte) error {
	var m ingestMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	switch m.Type {
	case "position":
		_, err := s.Record(ctx, sessionID, m.Fix)
		return err
	case "heading":
		if m.Heading == nil {
			return ErrInvalidHeading
		}
		_, err := s.UpdateHeading(ctx, sessionID, *m.Heading)
		return err
	case "error":
		_, err := s.ReportError(ctx, sessionID, SourceError{
			Source:  m.Source,
			Code:    errorCode(m.Code),
			Message: m.Message,
		})
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// errorCode maps GeolocationPositionError numeric codes to names and
// passes string codes through.
func errorCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return ""
	}
	switch n {
	case 1:
		return "permission_denied"
	case 2:
		return "position_unavailable"
	case 3:
		return "timeout"
	default:
		return "unknown"
	}
}
