package relay

import "encoding/json"

// Browser protocol message types. The browser leg speaks JSON text frames.
const (
	// Client → server.
	msgTypeAudio = "audio"
	msgTypeMute  = "mute"

	// Server → client.
	msgTypeConnected  = "connected"
	msgTypeStatus     = "status"
	msgTypeTranscript = "transcript"
	msgTypeClearAudio = "clear_audio"
	msgTypeMuteStatus = "mute_status"
	msgTypeError      = "error"
)

// Status values carried by "status" messages.
const (
	statusReady      = "ready"
	statusListening  = "listening"
	statusProcessing = "processing"
)

// clientMessage is the union of messages the browser sends.
type clientMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data,omitempty"`
	Muted bool   `json:"muted,omitempty"`
}

// serverMessage is the union of messages sent to the browser. Marshal via
// the constructor helpers below so each variant carries only its own fields.
type serverMessage struct {
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`
	Data    string `json:"data,omitempty"`
	Text    string `json:"text,omitempty"`
	Muted   *bool  `json:"muted,omitempty"`
	Message string `json:"message,omitempty"`
}

func marshalMsg(m serverMessage) []byte {
	// serverMessage contains only marshal-safe field types.
	b, _ := json.Marshal(m)
	return b
}

func connectedMsg() []byte {
	return marshalMsg(serverMessage{Type: msgTypeConnected})
}

func statusMsg(state string) []byte {
	return marshalMsg(serverMessage{Type: msgTypeStatus, State: state})
}

func audioMsg(b64 string) []byte {
	return marshalMsg(serverMessage{Type: msgTypeAudio, Data: b64})
}

func transcriptMsg(text string) []byte {
	return marshalMsg(serverMessage{Type: msgTypeTranscript, Text: text})
}

func clearAudioMsg() []byte {
	return marshalMsg(serverMessage{Type: msgTypeClearAudio})
}

func muteStatusMsg(muted bool) []byte {
	return marshalMsg(serverMessage{Type: msgTypeMuteStatus, Muted: &muted})
}

func errorMsg(message string) []byte {
	return marshalMsg(serverMessage{Type: msgTypeError, Message: message})
}
