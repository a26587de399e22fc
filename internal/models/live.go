package models

// Live session frame types.
const (
	FrameSay     = "say"     // client → server: one utterance or reply
	FrameReset   = "reset"   // client → server: abandon the current turn
	FrameSession = "session" // server → client: session snapshot
	FrameSpeak   = "speak"   // server → client: text to read aloud
)

// LiveFrame is one JSON message on the live session websocket.
type LiveFrame struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	Session *Session `json:"session,omitempty"`
}
