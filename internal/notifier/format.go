package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/watchpost/watchpost/internal/types"
)

func severityEmoji(s types.Severity) string {
	switch s {
	case types.SeverityHigh:
		return "🔴"
	case types.SeverityMedium:
		return "🟡"
	case types.SeverityLow:
		return "🔵"
	}
	return "ℹ️"
}

func severityColor(s types.Severity) string {
	switch s {
	case types.SeverityHigh:
		return "#dc2626"
	case types.SeverityMedium:
		return "#f59e0b"
	case types.SeverityLow:
		return "#3b82f6"
	}
	return "#6b7280"
}

// FormatTelegram renders an alert as Telegram HTML with a severity emoji
// prefix.
func FormatTelegram(a types.Alert) string {
	return fmt.Sprintf("%s <b>%s</b>\n%s", severityEmoji(a.Severity), strings.ToUpper(a.Type), a.Message)
}

// FormatEmailSubject renders the email subject line for an alert.
func FormatEmailSubject(a types.Alert) string {
	return fmt.Sprintf("Alert: %s", a.Type)
}

// FormatEmailHTML renders an alert as a self-contained HTML email body with
// a severity-colored header.
func FormatEmailHTML(a types.Alert) string {
	color := severityColor(a.Severity)
	timestamp := ""
	if !a.CreatedAt.IsZero() {
		timestamp = fmt.Sprintf(`<p style="margin: 0; font-size: 12px; color: #9ca3af;">%s</p>`,
			a.CreatedAt.Format(time.RFC1123))
	}
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background-color: %s; color: white; padding: 20px; border-radius: 8px 8px 0 0;">
    <h2 style="margin: 0;">%s</h2>
    <p style="margin: 5px 0 0 0; font-size: 12px;">Severity: %s</p>
  </div>
  <div style="background-color: #f9fafb; padding: 20px; border-radius: 0 0 8px 8px; border: 1px solid #e5e7eb; border-top: none;">
    <p style="margin: 0 0 15px 0; color: #374151;">%s</p>
    %s
  </div>
</div>`, color, strings.ToUpper(a.Type), strings.ToUpper(string(a.Severity)), a.Message, timestamp)
}
