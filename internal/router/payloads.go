package router

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/SatyamKumarChoudhary/messaging-app-backend/internal/store"
)

// Inbound payloads form a closed set of typed schemas, validated here
// at the gateway boundary. Malformed shapes fail soft; nothing
// loosely-typed propagates downstream.

type sendMessagePayload struct {
	ReceiverUsername string `json:"receiver_username"`
	Text             string `json:"text"`
	MessageType      string `json:"message_type"`
	MediaURL         string `json:"media_url"`
	FileName         string `json:"file_name"`
	FileSize         int64  `json:"file_size"`
}

func (p sendMessagePayload) content() store.Payload {
	mt := p.MessageType
	if mt == "" {
		mt = "text"
	}
	return store.Payload{
		Text:        p.Text,
		MessageType: mt,
		MediaURL:    p.MediaURL,
		FileName:    p.FileName,
		FileSize:    p.FileSize,
	}
}

type ackPayload struct {
	MessageID int64 `json:"message_id"`
}

type sendGroupMessagePayload struct {
	GroupID     string `json:"group_id"`
	Text        string `json:"text"`
	MessageType string `json:"message_type"`
	MediaURL    string `json:"media_url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
}

func (p sendGroupMessagePayload) content() store.Payload {
	mt := p.MessageType
	if mt == "" {
		mt = "text"
	}
	return store.Payload{
		Text:        p.Text,
		MessageType: mt,
		MediaURL:    p.MediaURL,
		FileName:    p.FileName,
		FileSize:    p.FileSize,
	}
}

type addMemberPayload struct {
	GroupID  string `json:"group_id"`
	Username string `json:"username"`
}

type groupRefPayload struct {
	GroupID string `json:"group_id"`
}

type callUserPayload struct {
	TargetUsername string `json:"targetUsername"`
}

type callRefPayload struct {
	CallID string `json:"callId"`
}

// decode unmarshals payload into dst after checking that every field
// named in required is present.
func decode(payload json.RawMessage, dst any, required ...string) error {
	if len(payload) == 0 {
		return fmt.Errorf("missing payload")
	}
	for _, field := range required {
		if !gjson.GetBytes(payload, field).Exists() {
			return fmt.Errorf("missing field %q", field)
		}
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}
