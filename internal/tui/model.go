package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"docqa/internal/domain"
)

// RAGPort is the TUI-facing subset of the RAG service.
type RAGPort interface {
	UnprocessedFiles(ctx context.Context) ([]string, error)
	ProcessedDocuments(ctx context.Context) ([]string, error)
	Ingest(ctx context.Context) (*domain.IngestReport, error)
	Answer(ctx context.Context, question string, documents []string) (*domain.Answer, error)
}

type focus int

const (
	focusInput focus = iota
	focusDocuments
)

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx     context.Context
	service RAGPort
	changes <-chan struct{}

	input    textinput.Model
	viewport viewport.Model
	focus    focus

	processed   []string
	unprocessed []string
	selected    map[string]bool
	cursor      int

	answer       *domain.Answer
	lastQuestion string
	status       string
	busy         bool
	ready        bool
}

type documentsMsg struct {
	processed   []string
	unprocessed []string
	err         error
}

type ingestedMsg struct {
	report *domain.IngestReport
	err    error
}

type answeredMsg struct {
	question string
	answer   *domain.Answer
	err      error
}

type dirChangedMsg struct{}

// New creates a new TUI model instance. changes, when non-nil, signals that
// the data directory changed on disk.
func New(ctx context.Context, service RAGPort, changes <-chan struct{}) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about the selected document(s)"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		service:  service,
		changes:  changes,
		input:    ti,
		viewport: vp,
		selected: map[string]bool{},
		status:   "Loading documents...",
	}
}

// Init loads the document lists and starts watching for changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.refresh(), m.waitForChange())
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.resize(msg.Width, msg.Height)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil

	case documentsMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.applyDocuments(msg.processed, msg.unprocessed)
		if !m.busy {
			m.status = m.documentsStatus()
		}
		return m, nil

	case ingestedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Processing failed: " + msg.err.Error()
			return m, m.refresh()
		}
		m.status = fmt.Sprintf("Processed %d document(s) into %d chunk(s) in %s.",
			msg.report.Documents, msg.report.Chunks, msg.report.Duration.Round(time.Millisecond))
		m.viewport.SetContent(m.renderAnswer())
		return m, m.refresh()

	case answeredMsg:
		m.busy = false
		if msg.err != nil {
			m.answer = nil
			m.status = answerError(msg.err)
		} else {
			m.answer = msg.answer
			m.lastQuestion = msg.question
			m.status = fmt.Sprintf("Answered from %d chunk(s).", len(msg.answer.Sources))
		}
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		return m, nil

	case dirChangedMsg:
		return m, tea.Batch(m.refresh(), m.waitForChange())

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	if m.focus != focusInput {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	// Global quits
	if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
		return tea.Quit, true
	}
	switch msg.String() {
	case "tab":
		if m.focus == focusInput {
			m.focus = focusDocuments
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return nil, true
	case "ctrl+p":
		return m.startIngest(), true
	case "pgdown":
		m.viewport.HalfViewDown()
		return nil, true
	case "pgup":
		m.viewport.HalfViewUp()
		return nil, true
	}

	if m.focus == focusDocuments {
		switch msg.String() {
		case "up", "k":
			if len(m.processed) > 0 {
				m.cursor = (m.cursor - 1 + len(m.processed)) % len(m.processed)
			}
		case "down", "j":
			if len(m.processed) > 0 {
				m.cursor = (m.cursor + 1) % len(m.processed)
			}
		case " ", "x":
			if len(m.processed) > 0 {
				name := m.processed[m.cursor]
				m.selected[name] = !m.selected[name]
			}
		case "a":
			all := len(m.selectedDocuments()) < len(m.processed)
			for _, name := range m.processed {
				m.selected[name] = all
			}
		case "p":
			return m.startIngest(), true
		case "esc", "enter":
			m.focus = focusInput
			m.input.Focus()
		}
		return nil, true
	}

	switch msg.String() {
	case "enter":
		q := strings.TrimSpace(m.input.Value())
		if q == "" || m.busy {
			return nil, true
		}
		return m.startAnswer(q), true
	case "down":
		m.viewport.LineDown(1)
		return nil, true
	case "up":
		m.viewport.LineUp(1)
		return nil, true
	}
	return nil, false
}

func (m *Model) startIngest() tea.Cmd {
	if m.busy {
		return nil
	}
	if len(m.unprocessed) == 0 {
		m.status = "No new files to process."
		return nil
	}
	m.busy = true
	m.status = fmt.Sprintf("Processing %d file(s)...", len(m.unprocessed))
	ctx, svc := m.ctx, m.service
	return func() tea.Msg {
		report, err := svc.Ingest(ctx)
		return ingestedMsg{report: report, err: err}
	}
}

func (m *Model) startAnswer(question string) tea.Cmd {
	docs := m.selectedDocuments()
	if len(m.processed) == 0 {
		m.status = "No processed documents yet. Process files first (ctrl+p)."
		return nil
	}
	if len(docs) == 0 {
		m.status = "Select at least one document to ask a question."
		return nil
	}
	m.busy = true
	m.status = fmt.Sprintf("Thinking about %q...", question)
	ctx, svc := m.ctx, m.service
	return func() tea.Msg {
		answer, err := svc.Answer(ctx, question, docs)
		return answeredMsg{question: question, answer: answer, err: err}
	}
}

func (m Model) refresh() tea.Cmd {
	ctx, svc := m.ctx, m.service
	return func() tea.Msg {
		processed, err := svc.ProcessedDocuments(ctx)
		if err != nil {
			return documentsMsg{err: err}
		}
		unprocessed, err := svc.UnprocessedFiles(ctx)
		if err != nil {
			return documentsMsg{err: err}
		}
		return documentsMsg{processed: processed, unprocessed: unprocessed}
	}
}

func (m Model) waitForChange() tea.Cmd {
	if m.changes == nil {
		return nil
	}
	changes := m.changes
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return dirChangedMsg{}
	}
}

// applyDocuments replaces the lists. Documents seen for the first time are
// selected; earlier choices are kept.
func (m *Model) applyDocuments(processed, unprocessed []string) {
	next := make(map[string]bool, len(processed))
	for _, name := range processed {
		sel, known := m.selected[name]
		next[name] = sel || !known
	}
	m.selected = next
	m.processed = processed
	m.unprocessed = unprocessed
	if m.cursor >= len(m.processed) {
		m.cursor = max(0, len(m.processed)-1)
	}
}

func (m Model) selectedDocuments() []string {
	var out []string
	for _, name := range m.processed {
		if m.selected[name] {
			out = append(out, name)
		}
	}
	return out
}

func (m Model) documentsStatus() string {
	if len(m.processed) == 0 && len(m.unprocessed) == 0 {
		return "No documents yet. Upload files to the data directory."
	}
	if len(m.unprocessed) > 0 {
		return fmt.Sprintf("%d new file(s) found. Press ctrl+p to process them.", len(m.unprocessed))
	}
	return "Ready. Type a question and press Enter."
}

func answerError(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoDocumentsSelected):
		return "Select at least one document to ask a question."
	case errors.Is(err, domain.ErrTimeout):
		return "Timed out: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}
