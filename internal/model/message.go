package model

// Notice reports why an event was rejected. Notices are logged, never shown
// to the visitor.
type Notice struct {
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	LevelRejected = "REJECTED"
	LevelWarning  = "WARNING"
)

// Reject builds a rejection notice.
func Reject(code, message string) []Notice {
	return []Notice{{Level: LevelRejected, Code: code, Message: message}}
}

// Rejected reports whether any notice blocks the transition.
func Rejected(notices []Notice) bool {
	for _, n := range notices {
		if n.Level == LevelRejected {
			return true
		}
	}
	return false
}
