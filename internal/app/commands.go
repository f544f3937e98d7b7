package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"chatcurator/internal/transport"
	logx "chatcurator/pkg/logx"
)

const replyLimit = 3500 // keep well under Telegram's message cap

// handleCommand maps owner chat commands 1:1 onto store/orchestrator methods.
func (a *App) handleCommand(ctx context.Context, ev transport.Event) {
	fields := strings.Fields(ev.Text)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Telegram group commands may arrive as /cmd@botname.
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	a.log.Debug("command received", logx.String("cmd", cmd), logx.String("from", ev.SenderID))

	var reply string
	switch cmd {
	case "save":
		if err := a.store.Save(ctx); err != nil {
			reply = "save failed: " + err.Error()
		} else {
			reply = "snapshot saved"
		}
	case "stats":
		reply = a.statsReport()
	case "clear":
		if len(args) == 0 {
			reply = "usage: /clear <source-id>"
			break
		}
		n := a.store.Clear(ctx, args[0])
		a.cache.Invalidate(args[0])
		reply = fmt.Sprintf("cleared %d messages from %s", n, args[0])
	case "clearall":
		n := a.store.ClearAll(ctx)
		reply = fmt.Sprintf("cleared %d messages", n)
	case "export":
		reply = a.exportReport()
	case "curate":
		res, err := a.orch.Run(ctx)
		switch {
		case err != nil:
			reply = "curation failed: " + err.Error()
		case res.Skipped:
			reply = "nothing to curate"
		default:
			reply = fmt.Sprintf("curated: %d evaluated, %d selected, %d delivered, %d failed",
				res.Evaluated, res.Selected, res.Delivered, res.Failed)
		}
	case "help":
		reply = "commands: /save /stats /clear <id> /clearall /export /curate"
	default:
		return
	}

	if reply == "" {
		return
	}
	err := a.adapter.SendText(ctx, transport.ChatTarget{ChatID: ev.SourceID}, clip(reply, replyLimit), nil)
	if err != nil {
		a.log.Warn("command reply failed", logx.String("cmd", cmd), logx.Err(err))
	}
}

func (a *App) statsReport() string {
	stats := a.store.Stats()
	qs := a.queue.Stats()
	ledger := a.orch.Ledger()

	ids := make([]string, 0, len(stats))
	total := 0
	for id, st := range stats {
		ids = append(ids, id)
		total += st.Count
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "sources: %d, retained: %d, curated: %d\n", len(stats), total, len(ledger))
	fmt.Fprintf(&b, "queue: backlog=%d active=%d processed=%d accepted=%d failed=%d\n",
		qs.Backlog, qs.Active, qs.Processed, qs.Accepted, qs.Failed)
	for _, id := range ids {
		st := stats[id]
		fmt.Fprintf(&b, "- %s: %d retained (%d total)", id, st.Count, st.Total)
		if !st.LastAccepted.IsZero() {
			fmt.Fprintf(&b, ", last %s", st.LastAccepted.Format("15:04:05"))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) exportReport() string {
	doc := struct {
		Store  any `json:"store"`
		Ledger any `json:"ledger"`
	}{
		Store:  a.store.All(),
		Ledger: a.orch.Ledger(),
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "export failed: " + err.Error()
	}
	return clip(string(b), replyLimit)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 4 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
