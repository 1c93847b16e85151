package admin

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ravelproxy/ravel/internal/core/domain"
)

const refreshInterval = time.Second

var (
	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	statusStyles = map[domain.OriginStatus]lipgloss.Style{
		domain.OriginStatusHealthy:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		domain.OriginStatusDegraded: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		domain.OriginStatusDown:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		domain.OriginStatusUnknown:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

type tickMsg time.Time

// model is the tea.Model driving the dashboard: a bubbles table refreshed
// on every tick from the Collector.
type model struct {
	collector *Collector
	table     table.Model
	title     string
}

func newModel(title string, c *Collector) model {
	columns := []table.Column{
		{Title: "Origin", Width: 24},
		{Title: "Active", Width: 8},
		{Title: "Idle", Width: 8},
		{Title: "Down", Width: 8},
		{Title: "Status", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(false),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.BorderStyle(lipgloss.NormalBorder()).Bold(true)
	styles.Selected = styles.Selected.Bold(false)
	t.SetStyles(styles)

	return model{collector: c, table: t, title: title}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), refreshCmd(m.collector))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(tickCmd(), refreshCmd(m.collector))
	case []OriginSnapshot:
		m.table.SetRows(toRows(msg))
	}
	return m, nil
}

func (m model) View() string {
	header := lipgloss.NewStyle().Bold(true).Render(m.title)
	return fmt.Sprintf("%s\n\n%s\n\nq to quit · refreshes every %s\n", header, borderStyle.Render(m.table.View()), refreshInterval)
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func refreshCmd(c *Collector) tea.Cmd {
	return func() tea.Msg { return c.Collect() }
}

func toRows(rows []OriginSnapshot) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		style := statusStyles[r.Status]
		out = append(out, table.Row{
			r.Name,
			fmt.Sprintf("%d", r.Active),
			fmt.Sprintf("%d", r.Idle),
			fmt.Sprintf("%d", r.Down),
			style.Render(string(r.Status)),
		})
	}
	return out
}

// Run blocks showing the live dashboard until the user quits.
func Run(title string, c *Collector) error {
	_, err := tea.NewProgram(newModel(title, c)).Run()
	return err
}
