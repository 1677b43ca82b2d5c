package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MagiusCHE/staminal-sub000/display"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const maxConsoleLines = 100

type consoleModel struct {
	ctx    context.Context
	host   *host
	input  textinput.Model
	lines  []string
	opened int
}

func newConsoleModel(ctx context.Context, h *host) *consoleModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "help"
	ti.Width = 60
	ti.Focus()
	return &consoleModel{ctx: ctx, host: h, input: ti}
}

type timerFiredMsg uint32

func (m *consoleModel) waitTimer() tea.Cmd {
	return func() tea.Msg {
		return timerFiredMsg(<-m.host.timerFired)
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitTimer())
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			m.echo("> " + line)
			return m.exec(line)
		}

	case timerFiredMsg:
		m.echo(okStyle.Render(fmt.Sprintf("timer %d fired", uint32(msg))))
		return m, m.waitTimer()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) echo(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxConsoleLines {
		m.lines = m.lines[len(m.lines)-maxConsoleLines:]
	}
}

func (m *consoleModel) fail(err error) (tea.Model, tea.Cmd) {
	m.echo(errStyle.Render("error: " + err.Error()))
	return m, nil
}

func (m *consoleModel) exec(line string) (tea.Model, tea.Cmd) {
	args := strings.Fields(line)
	switch args[0] {
	case "quit", "exit":
		return m, tea.Quit

	case "mods":
		mods := m.host.mods.Mods()
		if len(mods) == 0 {
			m.echo("no mods loaded")
			return m, nil
		}
		for _, id := range mods {
			m.echo("  " + id)
		}

	case "send":
		if len(args) < 2 {
			m.echo("usage: send <event> [key=value ...]")
			return m, nil
		}
		fields := make(map[string]any)
		for _, kv := range args[2:] {
			if k, v, ok := strings.Cut(kv, "="); ok {
				fields[k] = v
			}
		}
		out := m.host.send(m.ctx, args[1], fields)
		style := errStyle
		if out.Handled {
			style = okStyle
		}
		m.echo(style.Render(fmt.Sprintf("handled=%v", out.Handled)))
		for _, k := range sortedKeys(out.Output) {
			m.echo(fmt.Sprintf("  %s: %v", k, out.Output[k]))
		}

	case "timer":
		if len(args) != 2 {
			m.echo("usage: timer <ms>")
			return m, nil
		}
		ms, err := strconv.Atoi(args[1])
		if err != nil {
			return m.fail(err)
		}
		id := m.host.scheduleTimer(time.Duration(ms) * time.Millisecond)
		m.echo(fmt.Sprintf("timer %d armed for %dms", id, ms))

	case "call":
		if len(args) != 3 {
			m.echo("usage: call <mod> <fn>")
			return m, nil
		}
		rv, found, err := m.host.mods.CallModFunctionWithReturn(m.ctx, args[1], args[2])
		if err != nil {
			return m.fail(err)
		}
		if !found {
			m.echo(errStyle.Render("function not found"))
			return m, nil
		}
		m.echo(okStyle.Render("-> " + rv.String()))

	case "unload":
		if len(args) != 2 {
			m.echo("usage: unload <mod>")
			return m, nil
		}
		if err := m.host.mods.UnloadMod(m.ctx, args[1]); err != nil {
			return m.fail(err)
		}
		m.echo(okStyle.Render("unloaded " + args[1]))

	case "win":
		return m.execWin(args[1:])

	case "help":
		m.echo("mods                      list loaded mods")
		m.echo("send <event> [k=v ...]    dispatch an event")
		m.echo("timer <ms>                arm a one-shot timer")
		m.echo("call <mod> <fn>           call a mod function")
		m.echo("unload <mod>              unload a mod")
		m.echo("win open|close|click|render   drive the display engine")
		m.echo("quit                      exit")

	default:
		m.echo(errStyle.Render("unknown command, try help"))
	}
	return m, nil
}

func (m *consoleModel) execWin(args []string) (tea.Model, tea.Cmd) {
	if m.host.proxy == nil {
		m.echo(errStyle.Render("display engine not enabled, start with -display"))
		return m, nil
	}
	if len(args) == 0 {
		m.echo("usage: win open <id> <title> | win close <id> | win click <x> <y> | win render")
		return m, nil
	}

	var (
		out any
		err error
	)
	switch args[0] {
	case "open":
		if len(args) < 2 {
			m.echo("usage: win open <id> [title]")
			return m, nil
		}
		title := strings.Join(args[2:], " ")
		_, err = m.host.proxy.SendCommand(m.ctx, display.OpenWindow{
			ID: args[1], Title: title, X: m.opened * 4, Y: 2, Width: 24, Height: 5,
		})
		if err == nil {
			m.opened++
			m.echo(okStyle.Render("window opened"))
		}

	case "close":
		if len(args) != 2 {
			m.echo("usage: win close <id>")
			return m, nil
		}
		_, err = m.host.proxy.SendCommand(m.ctx, display.CloseWindow{ID: args[1]})
		if err == nil {
			m.echo(okStyle.Render("window closed"))
		}

	case "click":
		if len(args) != 3 {
			m.echo("usage: win click <x> <y>")
			return m, nil
		}
		x, errX := strconv.Atoi(args[1])
		y, errY := strconv.Atoi(args[2])
		if errX != nil || errY != nil {
			m.echo("usage: win click <x> <y>")
			return m, nil
		}
		out, err = m.host.proxy.SendCommand(m.ctx, display.Input{X: x, Y: y})
		if err == nil {
			if hit := out.(string); hit != "" {
				m.echo(okStyle.Render("hit " + hit))
			} else {
				m.echo("no window there")
			}
		}

	case "render":
		out, err = m.host.proxy.SendCommand(m.ctx, display.Render{})
		if err == nil {
			for _, l := range strings.Split(out.(string), "\n") {
				m.echo(l)
			}
		}

	default:
		m.echo(errStyle.Render("unknown win command"))
	}

	if err != nil {
		return m.fail(err)
	}
	return m, nil
}

func (m *consoleModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("staminal"))
	b.WriteString("\n\n")
	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter run • ctrl+c quit"))
	return b.String()
}

func runInteractive(ctx context.Context, h *host) error {
	p := tea.NewProgram(newConsoleModel(ctx, h), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
