package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-rfu/rfu"
)

// scrollback is how many output lines stay on screen
const scrollback = 12

type Model struct {
	Console *Console
	Backend *rfu.Backend
	Status  string // listen address, device

	input    textinput.Model
	output   []string
	units    []rfu.UnitInfo
	quitting bool
}

type UpdateMsg struct{}

func NewModel(console *Console, backend *rfu.Backend, status string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "add:10.0.0.5"
	ti.CharLimit = 64
	ti.Focus()

	return Model{
		Console: console,
		Backend: backend,
		Status:  status,
		input:   ti,
		output:  []string{"type help for commands"},
		units:   backend.Units(),
	}
}

func ListenForUpdates(backend *rfu.Backend) tea.Cmd {
	return func() tea.Msg {
		<-backend.Updates()
		return UpdateMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		ListenForUpdates(m.Backend),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			out, quit := m.Console.Run(line)
			if line != "" {
				m.output = append(m.output, dimStyle.Render("> "+line))
			}
			m.output = append(m.output, out...)
			if len(m.output) > scrollback {
				m.output = m.output[len(m.output)-scrollback:]
			}
			m.units = m.Backend.Units()
			if quit {
				m.quitting = true
				return m, tea.Quit
			}
			return m, nil
		}

	case UpdateMsg:
		m.units = m.Backend.Units()
		return m, ListenForUpdates(m.Backend)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(headerStyle.Render("go-rfu  " + m.Status))
	out.WriteString("\n\n")
	out.WriteString(m.unitTable())
	out.WriteString("\n\n")
	for _, line := range m.output {
		out.WriteString(line)
		out.WriteString("\n")
	}
	out.WriteString("\n")
	out.WriteString(m.input.View())
	out.WriteString("\n")
	out.WriteString(dimStyle.Render("add:<ip>  del:<ip>  list  level:<ch>=<v>  save  help  q"))
	return out.String()
}

func (m Model) unitTable() string {
	if len(m.units) == 0 {
		return dimStyle.Render("no units registered")
	}
	rows := []string{dimStyle.Render(fmt.Sprintf("%-16s %4s %4s  %-16s %s", "UNIT", "CH", "LVL", "", "PAD"))}
	for _, u := range m.units {
		rows = append(rows, fmt.Sprintf("%-16s %4d %4d  %s %s",
			u.Endpoint, u.Channel, u.Level, levelBar(u.Level, 16), u.Readout))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}
