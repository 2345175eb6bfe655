package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/shortlist/screening"
	"github.com/pithecene-io/shortlist/status"
	"github.com/pithecene-io/shortlist/types"
)

// Controller is the part of screening.Controller the view drives.
type Controller interface {
	State() screening.State
	Watch(fn func(screening.State)) (cancel func())
	Reset(ctx context.Context) error
	Ranked(ctx context.Context) ([]types.Candidate, error)
}

// StateMsg carries a controller state into the program.
type StateMsg screening.State

type rankingMsg struct {
	runID string
	cands []types.Candidate
	err   error
}

type resetDoneMsg struct{ err error }

// keyMap defines key bindings.
type keyMap struct {
	Quit  key.Binding
	Reset key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Reset: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reset session"),
	),
}

// Model is the Bubble Tea model for a screening session.
type Model struct {
	ctx  context.Context
	ctrl Controller
	feed *feed

	state   screening.State
	bar     progress.Model
	spin    spinner.Model
	ranking table.Model

	// rankedRun is the run whose ranking was requested; ranked is set
	// once it arrived.
	rankedRun string
	ranked    bool
	rankErr   error

	resetting bool
	resetErr  error
	quitting  bool
}

// NewModel creates a model for ctrl. State arrives as StateMsg values.
func NewModel(ctx context.Context, ctrl Controller) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = WarningStyle

	return Model{
		ctx:  ctx,
		ctrl: ctrl,
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spin: sp,
		ranking: table.New(
			table.WithColumns(rankingColumns),
			table.WithFocused(true),
			table.WithHeight(10),
		),
	}
}

var rankingColumns = []table.Column{
	{Title: "#", Width: 3},
	{Title: "Name", Width: 20},
	{Title: "Email", Width: 28},
	{Title: "Role", Width: 16},
	{Title: "Score", Width: 6},
	{Title: "Confidence", Width: 10},
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.feed.next())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if w := msg.Width - 24; w > 10 {
			m.bar.Width = min(w, 60)
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Reset):
			if m.resetting {
				return m, nil
			}
			m.resetting = true
			m.resetErr = nil
			return m, m.reset()
		}
		var cmd tea.Cmd
		m.ranking, cmd = m.ranking.Update(msg)
		return m, cmd

	case StateMsg:
		return m.observe(screening.State(msg))

	case rankingMsg:
		if msg.runID != m.rankedRun {
			return m, nil
		}
		m.rankErr = msg.err
		if msg.err == nil {
			m.ranked = true
			m.ranking.SetRows(rankingRows(msg.cands))
		}
		return m, nil

	case resetDoneMsg:
		m.resetting = false
		m.resetErr = msg.err
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) observe(st screening.State) (tea.Model, tea.Cmd) {
	m.state = st
	cmds := []tea.Cmd{m.feed.next()}

	switch {
	case !st.ResultsReady:
		m.rankedRun = ""
		m.ranked = false
		m.rankErr = nil
		m.ranking.SetRows(nil)
	case st.RunID != m.rankedRun:
		m.rankedRun = st.RunID
		m.ranked = false
		m.rankErr = nil
		cmds = append(cmds, m.fetchRanking(st.RunID))
	}
	return m, tea.Batch(cmds...)
}

// reset runs the controller reset off the event loop; Reset notifies
// watchers, which feed back into this program.
func (m Model) reset() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return resetDoneMsg{err: ctrl.Reset(ctx)}
	}
}

func (m Model) fetchRanking(runID string) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		cands, err := ctrl.Ranked(ctx)
		return rankingMsg{runID: runID, cands: cands, err: err}
	}
}

func rankingRows(cands []types.Candidate) []table.Row {
	rows := make([]table.Row, len(cands))
	for i, c := range cands {
		rows[i] = table.Row{
			fmt.Sprintf("%d", i+1),
			c.Name,
			c.Email,
			c.Role,
			fmt.Sprintf("%.1f", c.Score),
			string(c.Confidence()),
		}
	}
	return rows
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	st := m.state

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Shortlist"))
	b.WriteString("\n")

	epoch := st.Epoch.String()
	if epoch == "" {
		epoch = "-"
	}
	statusText := StatusStyle(st.Status).Render(string(st.Status))
	if st.Status == status.Processing {
		statusText = m.spin.View() + " " + statusText
	}
	b.WriteString(field("Session", ValueStyle.Render(epoch)))
	b.WriteString(field("Setup", ValueStyle.Render(st.Setup.String())))
	b.WriteString(field("Status", statusText))

	if p := st.Progress; p != nil && p.Total > 0 {
		pct := float64(p.Settled) / float64(p.Total)
		counts := fmt.Sprintf(" %d/%d  %s %s",
			p.Settled, p.Total,
			SuccessStyle.Render(fmt.Sprintf("%d ok", p.Succeeded)),
			ErrorStyle.Render(fmt.Sprintf("%d failed", p.Failed)))
		b.WriteString(field("Upload", m.bar.ViewAs(pct)+counts))
	}
	switch {
	case st.Outcome != nil:
		b.WriteString(field("Outcome", outcomeStyle(st.Outcome.Failed).Render(st.Outcome.String())))
	case st.RunCancelled:
		b.WriteString(field("Outcome", WarningStyle.Render("cancelled")))
	}

	if st.Message != "" {
		b.WriteString(MessageStyle.Render(st.Message))
		b.WriteString("\n")
	}
	if m.resetErr != nil {
		b.WriteString(ErrorStyle.Render(m.resetErr.Error()))
		b.WriteString("\n")
	}
	if m.rankErr != nil && !screening.IsStale(m.rankErr) {
		b.WriteString(ErrorStyle.Render(m.rankErr.Error()))
		b.WriteString("\n")
	}
	if m.ranked && len(m.ranking.Rows()) > 0 {
		b.WriteString("\n")
		b.WriteString(BoxStyle.Render(m.ranking.View()))
		b.WriteString("\n")
	}

	help := "r reset • q quit"
	if m.resetting {
		help = "resetting… • q quit"
	}
	b.WriteString(HelpStyle.Render(help))
	return b.String()
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), value) + "\n"
}

func outcomeStyle(failed int) lipgloss.Style {
	if failed > 0 {
		return WarningStyle
	}
	return SuccessStyle
}

// Run shows the live view of ctrl until the user quits or ctx is done.
func Run(ctx context.Context, ctrl Controller, opts ...tea.ProgramOption) error {
	f := newFeed()
	defer f.close()
	unwatch := ctrl.Watch(f.push)
	defer unwatch()
	f.push(ctrl.State())

	m := NewModel(ctx, ctrl)
	m.feed = f

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(m, opts...).Run()
	return err
}

// feed hands the newest controller state to the program without blocking
// the goroutine that changed it. Intermediate states may be skipped.
type feed struct {
	mu     sync.Mutex
	latest screening.State
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newFeed() *feed {
	return &feed{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (f *feed) push(st screening.State) {
	f.mu.Lock()
	f.latest = st
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// next waits for the next pushed state. A nil feed yields no command.
func (f *feed) next() tea.Cmd {
	if f == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case <-f.signal:
		case <-f.done:
			return nil
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		return StateMsg(f.latest)
	}
}

func (f *feed) close() {
	f.once.Do(func() { close(f.done) })
}
