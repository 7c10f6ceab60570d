// Package display defines the status/emotion/chat surface the device core
// drives, plus two trivial implementations.
//
// Every method is a fire-and-forget UI update: implementations must not block
// for long and must be safe for concurrent use.
package display

import "log/slog"

// Display renders device status.
type Display interface {
	// SetStatus replaces the status line, e.g. "Standby" or "12:34".
	SetStatus(status string)

	// SetEmotion shows an emotion glyph, e.g. "neutral", "loving".
	SetEmotion(emotion string)

	// SetChatMessage shows a chat bubble. An empty text clears it.
	SetChatMessage(role, text string)

	// ShowNotification flashes a transient message.
	ShowNotification(text string)
}

// None discards every update. It substitutes for a display that failed to
// come up.
type None struct{}

func (None) SetStatus(string)              {}
func (None) SetEmotion(string)             {}
func (None) SetChatMessage(string, string) {}
func (None) ShowNotification(string)       {}

// Log writes every update to the default slog logger at info level.
type Log struct{}

// SetStatus logs the new status.
func (Log) SetStatus(status string) {
	slog.Info("display status", "status", status)
}

// SetEmotion logs the new emotion.
func (Log) SetEmotion(emotion string) {
	slog.Info("display emotion", "emotion", emotion)
}

// SetChatMessage logs the chat bubble.
func (Log) SetChatMessage(role, text string) {
	slog.Info("display chat message", "role", role, "text", text)
}

// ShowNotification logs the notification.
func (Log) ShowNotification(text string) {
	slog.Info("display notification", "text", text)
}

var (
	_ Display = None{}
	_ Display = Log{}
)
