package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vandervillain/rando/internal/protocol"
)

func newTable(title string, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Format.Header = text.FormatUpper
	t.SetTitle(title)
	t.AppendHeader(header)
	return t
}

// UsersTable renders the admin user listing.
func UsersTable(users []protocol.UserInfo, now time.Time) string {
	if len(users) == 0 {
		return MutedStyle.Render("No users connected")
	}
	t := newTable(fmt.Sprintf("%s Users", IconPeer), table.Row{"ID", "Name", "Room", "Call", "Connected"})
	for _, u := range users {
		room := u.RoomID
		if room == "" {
			room = "-"
		}
		call := ""
		if u.InCall {
			call = IconCall
		}
		t.AppendRow(table.Row{truncateString(u.ID, 12), truncateString(u.Name, 24), room, call, formatAge(now.Sub(u.ConnectedAt))})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(users)})
	return t.Render()
}

// RoomsTable renders the admin room listing.
func RoomsTable(rooms []protocol.RoomInfo, now time.Time) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No active rooms")
	}
	t := newTable(fmt.Sprintf("%s Rooms", IconRoom), table.Row{"ID", "Name", "Members", "In Call", "Age"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ID, truncateString(r.Name, 24), r.Members, r.InCall, formatAge(now.Sub(r.CreatedAt))})
	}
	return t.Render()
}

// RoomInfo is the box printed after a room is created.
type RoomInfo struct {
	Room    protocol.Room
	Command string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:  %s\n%s Join:     %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.Room.ID),
		IconRoom, MutedStyle.Render(r.Command),
	)
	return SuccessBoxStyle.Render(content)
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

func formatAge(d time.Duration) string {
	seconds := d.Seconds()
	if seconds < 1 {
		return "<1s"
	}
	if seconds < 60 {
		return fmt.Sprintf("%.0fs", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm%ds", int(seconds)/60, int(seconds)%60)
	}
	return fmt.Sprintf("%dh%dm", int(seconds)/3600, (int(seconds)%3600)/60)
}

func percent(p float64) string {
	return fmt.Sprintf("%3.0f%%", p*100)
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
