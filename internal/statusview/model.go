// Package statusview is a read-only bubbletea status view: open
// positions, circuit-breaker state, and recent pipeline metrics. It is
// an operator convenience only, never on the decision path, mirroring
// the teacher's own separation between internal/tui (display) and
// internal/trading (decision) — trimmed down to a single non-interactive
// screen since the dashboard's interactive surface is out of scope here.
package statusview

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"solana-copytrader/internal/config"
	"solana-copytrader/internal/store"
)

var (
	colorBg     = lipgloss.Color("#0f1c2e")
	colorBorder = lipgloss.Color("#2e7de9")
	colorText   = lipgloss.Color("#a9b1d6")
	colorOK     = lipgloss.Color("#73daca")
	colorBad    = lipgloss.Color("#f7768e")
	colorHeader = lipgloss.Color("#7aa2f7")

	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorHeader)
	styleFrame  = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(colorBorder).Padding(0, 1)
	styleBody   = lipgloss.NewStyle().Foreground(colorText)
	styleOK     = lipgloss.NewStyle().Foreground(colorOK)
	styleBad    = lipgloss.NewStyle().Bold(true).Foreground(colorBad)
)

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c")),
}

// BreakerStatus reports the circuit breaker's open/closed state.
type BreakerStatus interface {
	IsOpen() bool
}

// Model is the bubbletea model for the status view.
type Model struct {
	db      *store.DB
	breaker BreakerStatus
	cfg     func() *config.Config

	width, height int
	positions     []*store.Position
	metrics       []*store.PipelineMetric
	breakerOpen   bool
	lastRefresh   time.Time
}

// NewModel builds a status view model over the given store and breaker.
func NewModel(db *store.DB, breaker BreakerStatus, cfg func() *config.Config) *Model {
	return &Model{db: db, breaker: breaker, cfg: cfg}
}

type tickMsg time.Time

type refreshMsg struct {
	positions   []*store.Position
	metrics     []*store.PipelineMetric
	breakerOpen bool
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.tickCmd())
}

func (m *Model) refreshInterval() time.Duration {
	ms := m.cfg().StatusView.RefreshRateMs
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

func (m *Model) logLines() int {
	n := m.cfg().StatusView.LogLines
	if n <= 0 {
		n = 10
	}
	return n
}

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval(), func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		positions, _ := m.db.ListPositions(ctx)
		metrics, _ := m.db.RecentMetrics(ctx, m.logLines())
		open := m.breaker != nil && m.breaker.IsOpen()

		return refreshMsg{positions: positions, metrics: metrics, breakerOpen: open}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), m.tickCmd())
	case refreshMsg:
		m.positions = msg.positions
		m.metrics = msg.metrics
		m.breakerOpen = msg.breakerOpen
		m.lastRefresh = time.Now()
	}
	return m, nil
}

func (m *Model) View() string {
	breakerLine := styleOK.Render("breaker: closed")
	if m.breakerOpen {
		breakerLine = styleBad.Render("breaker: OPEN")
	}

	header := styleHeader.Render(fmt.Sprintf("copytrader status — %d open positions", len(m.positions)))
	body := header + "\n" + breakerLine + "\n\n" + m.renderPositions() + "\n" + m.renderMetrics()
	return styleFrame.Render(styleBody.Render(body))
}

func (m *Model) renderPositions() string {
	if len(m.positions) == 0 {
		return "positions: none open\n"
	}
	out := "positions:\n"
	for _, p := range m.positions {
		out += fmt.Sprintf("  %-44s %-10s %s\n", p.TokenMint, p.Status, p.RawBalance.String())
	}
	return out
}

func (m *Model) renderMetrics() string {
	if len(m.metrics) == 0 {
		return "recent trades: none\n"
	}
	out := "recent trades:\n"
	for _, pm := range m.metrics {
		out += fmt.Sprintf("  %-8s %-10s %-44s %6dms\n", pm.Direction, pm.Outcome, pm.TokenMint, pm.TotalLatencyMs)
	}
	return out
}

// Run starts the status view program and blocks until ctx is cancelled
// or the operator quits.
func Run(ctx context.Context, db *store.DB, breaker BreakerStatus, cfg func() *config.Config) error {
	m := NewModel(db, breaker, cfg)
	p := tea.NewProgram(m)

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
