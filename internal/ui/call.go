package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/vandervillain/rando/internal/callstate"
	"github.com/vandervillain/rando/internal/signalclient"
)

// step is how far one key press moves gain or threshold.
const step = 0.05

// Controller is what the call screen can ask of the session.
type Controller interface {
	ToggleMute() error
	SetTestMic(on bool) error
	JoinCall() error
	LeaveCall() error
	SetGain(id string, percent float64) error
	SetThreshold(id string, percent float64) error
}

type viewMsg callstate.View

type closedMsg struct{}

// CallModel is the live room and call screen.
type CallModel struct {
	ctrl  Controller
	views <-chan callstate.View

	view     callstate.View
	meter    progress.Model
	spinner  spinner.Model
	selected int
	status   string
	quitting bool
}

func NewCallModel(ctrl Controller, views <-chan callstate.View) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		ctrl:  ctrl,
		views: views,
		meter: progress.New(
			progress.WithGradient(MeterStart, MeterEnd),
			progress.WithWidth(20),
			progress.WithoutPercentage(),
		),
		spinner: s,
	}
}

// RunCall shows the call screen until the user quits or views closes.
func RunCall(ctrl Controller, views <-chan callstate.View) error {
	_, err := tea.NewProgram(NewCallModel(ctrl, views)).Run()
	return err
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForView())
}

func (m *CallModel) waitForView() tea.Cmd {
	return func() tea.Msg {
		v, ok := <-m.views
		if !ok {
			return closedMsg{}
		}
		return viewMsg(v)
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd := m.handleKey(msg); cmd != nil {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.meter.Width = max(10, min(30, msg.Width-50))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case viewMsg:
		m.view = callstate.View(msg)
		m.selected = max(0, min(m.selected, len(m.view.Streams)-1))
		cmds = append(cmds, m.waitForView())

	case closedMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

func (m *CallModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	var err error
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return tea.Quit
	case "m":
		err = m.ctrl.ToggleMute()
	case "t":
		err = m.ctrl.SetTestMic(!m.view.TestMic)
	case "c":
		if m.view.InCall {
			err = m.ctrl.LeaveCall()
		} else {
			err = m.ctrl.JoinCall()
		}
	case "up", "k":
		m.selected = max(0, m.selected-1)
	case "down", "j":
		m.selected = max(0, min(m.selected+1, len(m.view.Streams)-1))
	case "+", "=":
		err = m.adjust(func(st callstate.StreamView) error { return m.ctrl.SetGain(st.ID, clamp(st.Gain+step)) })
	case "-":
		err = m.adjust(func(st callstate.StreamView) error { return m.ctrl.SetGain(st.ID, clamp(st.Gain-step)) })
	case "]":
		err = m.adjust(func(st callstate.StreamView) error { return m.ctrl.SetThreshold(st.ID, clamp(st.Threshold+step)) })
	case "[":
		err = m.adjust(func(st callstate.StreamView) error { return m.ctrl.SetThreshold(st.ID, clamp(st.Threshold-step)) })
	}
	m.status = ""
	if err != nil {
		m.status = err.Error()
	}
	return nil
}

func (m *CallModel) adjust(fn func(callstate.StreamView) error) error {
	if m.selected >= len(m.view.Streams) {
		return nil
	}
	return fn(m.view.Streams[m.selected])
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := "rando"
	if r := m.view.Room; r != nil {
		title = fmt.Sprintf("%s rando - %s", IconRoom, r.Name)
	}
	b.WriteString(HeaderStyle.Render(title) + "\n")

	switch m.view.Connection {
	case signalclient.StateReconnecting:
		b.WriteString(fmt.Sprintf("%s %s\n\n", m.spinner.View(), WarningStyle.Render("Reconnecting...")))
	case signalclient.StateConnecting:
		b.WriteString(fmt.Sprintf("%s %s Connecting...\n\n", m.spinner.View(), IconConnect))
	}

	b.WriteString(BoldStyle.Render("Room") + "\n")
	if len(m.view.Peers) == 0 {
		b.WriteString(MutedStyle.Render("  "+IconWaiting+" nobody here yet") + "\n")
	}
	for _, p := range m.view.Peers {
		b.WriteString("  " + m.peerLine(p) + "\n")
	}

	if len(m.view.Streams) > 0 {
		b.WriteString("\n" + BoldStyle.Render("Audio") + "\n")
		for i, st := range m.view.Streams {
			b.WriteString(m.streamLine(i, st) + "\n")
		}
	}

	if m.view.Error != "" {
		b.WriteString("\n" + ErrorBoxStyle.Render(m.view.Error) + "\n")
	}
	if m.status != "" {
		b.WriteString("\n" + ErrorStyle.Render(m.status) + "\n")
	}

	b.WriteString(FooterStyle.Render(m.help()))
	return ContainerStyle.Render(b.String())
}

func (m *CallModel) peerLine(p callstate.RoomPeer) string {
	icon := IconPeer
	switch {
	case p.Muted:
		icon = IconMuted
	case p.Speaking:
		icon = IconSpeaking
	case p.InCall:
		icon = IconCall
	}
	name := p.Name
	if p.ID == m.view.Self.ID {
		name += " (you)"
	}
	style := MutedStyle
	if p.InCall {
		style = BoldStyle
	}
	if p.Speaking {
		style = SpeakingStyle
	}
	return fmt.Sprintf("%s %s", icon, style.Render(truncateString(name, 30)))
}

func (m *CallModel) streamLine(i int, st callstate.StreamView) string {
	cursor := "  "
	name := m.nameOf(st.ID)
	if i == m.selected {
		cursor = SelectedStyle.Render("> ")
	}
	label := name
	if st.ID == m.view.Self.ID {
		label = IconMic + " " + name
		if !st.Enabled {
			label = IconMuted + " " + name
		}
	}
	gate := MutedStyle.Render("gate")
	if st.Speaking {
		gate = SpeakingStyle.Render("open")
	}
	return cursor + joinNonEmpty(
		fmt.Sprintf("%-24s", truncateString(label, 24)),
		m.meter.ViewAs(st.Level),
		gate,
		MutedStyle.Render("gain "+percent(st.Gain)),
		MutedStyle.Render("threshold "+percent(st.Threshold)),
	)
}

func (m *CallModel) nameOf(id string) string {
	for _, p := range m.view.Peers {
		if p.ID == id {
			return p.Name
		}
	}
	if id == m.view.Self.ID {
		return m.view.Self.Name
	}
	return id
}

func (m *CallModel) help() string {
	call := "c join call"
	if m.view.InCall {
		call = "c leave call"
	}
	mute := "m mute"
	if m.view.Muted {
		mute = "m unmute"
	}
	test := "t test mic"
	if m.view.TestMic {
		test = "t stop test"
	}
	return strings.Join([]string{call, mute, test, "↑/↓ select", "+/- gain", "[/] threshold", "q quit"}, " • ")
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}
