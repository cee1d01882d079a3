package alert

import (
	"fmt"
	"html"
	"strings"

	"github.com/dustin/go-humanize"

	"crosspub/pkg/eventbus"
	"crosspub/pkg/pubqueue"
)

// formatEvent renders one engine event as a Telegram HTML message.
// Unknown payloads render as a bare type line so nothing is silently eaten.
func formatEvent(ev eventbus.Event) string {
	switch ev.Type {
	case pubqueue.EventEngineEmergency:
		return "🛑 <b>emergency stop</b>: queue halted, in-flight items cancelled"
	case pubqueue.EventEngineStarted:
		return "▶️ publishing engine started"
	case pubqueue.EventEngineStopped:
		return "⏸ publishing engine stopped"
	}

	switch data := ev.Data.(type) {
	case pubqueue.ItemEvent:
		return formatItemEvent(ev.Type, data)
	case pubqueue.BreakerEvent:
		return fmt.Sprintf("⛔ <b>circuit open</b> for <code>%s</code> (back %s)",
			html.EscapeString(data.Platform), humanize.Time(data.OpenUntil))
	default:
		return "<code>" + html.EscapeString(ev.Type) + "</code>"
	}
}

func formatItemEvent(typ string, it pubqueue.ItemEvent) string {
	var b strings.Builder
	switch typ {
	case pubqueue.EventItemFailed:
		b.WriteString("❌ <b>publish failed</b>")
	case pubqueue.EventItemRetrying:
		b.WriteString("🔁 publish retrying")
	case pubqueue.EventItemPublished:
		b.WriteString("✅ published")
	case pubqueue.EventItemCancelled:
		b.WriteString("🚫 cancelled")
	case pubqueue.EventItemEvicted:
		b.WriteString("🗄 archived")
	default:
		b.WriteString("<code>")
		b.WriteString(html.EscapeString(typ))
		b.WriteString("</code>")
	}

	if t := strings.TrimSpace(it.Title); t != "" {
		b.WriteString("\n<b>")
		b.WriteString(html.EscapeString(t))
		b.WriteString("</b>")
	}
	if len(it.Platforms) > 0 {
		b.WriteString("\nplatforms: ")
		b.WriteString(html.EscapeString(strings.Join(it.Platforms, ", ")))
	}
	b.WriteString(fmt.Sprintf("\npriority: %s", it.Priority))
	if it.RetryCount > 0 {
		b.WriteString(fmt.Sprintf(" · attempt %d", it.RetryCount+1))
	}
	if e := strings.TrimSpace(it.Error); e != "" {
		b.WriteString("\n<code>")
		b.WriteString(html.EscapeString(e))
		b.WriteString("</code>")
	}
	return b.String()
}

// formatDigest renders the periodic queue-health summary.
func formatDigest(st pubqueue.Stats) string {
	var b strings.Builder
	b.WriteString(healthEmoji(st.QueueHealth))
	b.WriteString(" <b>queue digest</b>\n")
	fmt.Fprintf(&b, "health: %s (%s%% success)\n",
		st.QueueHealth, humanize.FtoaWithDigits(st.SuccessRate, 1))
	fmt.Fprintf(&b, "items: %s total, %d in flight\n",
		humanize.Comma(int64(st.Total)), st.InFlight)
	fmt.Fprintf(&b, "published today: %s", humanize.Comma(int64(st.PublishedToday)))

	if n := st.ByStatus[pubqueue.StatusFailed]; n > 0 {
		fmt.Fprintf(&b, "\nfailed: %d", n)
	}
	if n := st.ByStatus[pubqueue.StatusRetrying]; n > 0 {
		fmt.Fprintf(&b, "\nretrying: %d", n)
	}
	return b.String()
}

func healthEmoji(health string) string {
	switch health {
	case "excellent":
		return "🟢"
	case "good":
		return "🟡"
	case "warning":
		return "🟠"
	default:
		return "🔴"
	}
}
