package detect

import (
	"encoding/json"
	"fmt"
	"os"
)

// Handshake is the self-registration file an agent writes to declare
// itself. Presence alone is full-confidence evidence.
type Handshake struct {
	AgentID      string            `json:"agent_id"`
	AgentType    string            `json:"agent_type"`
	AgentVersion string            `json:"agent_version,omitempty"`
	SessionStart int64             `json:"session_start"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DefaultHandshakePath is where agents drop the handshake file,
// relative to the .git directory so it never gets committed.
const DefaultHandshakePath = "vahti/agent-handshake.json"

// ReadHandshake loads and parses the handshake file at path.
func ReadHandshake(path string) (*Handshake, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}

	var hs Handshake
	if err := json.Unmarshal(data, &hs); err != nil {
		return nil, fmt.Errorf("parse handshake: %w", err)
	}
	if hs.AgentID == "" && hs.AgentType == "" {
		return nil, fmt.Errorf("handshake missing agent identity")
	}
	return &hs, nil
}
