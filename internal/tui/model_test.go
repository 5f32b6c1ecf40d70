package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

type fakeService struct {
	processed   []string
	unprocessed []string
	ingests     int
	asked       [][]string
	answerErr   error
}

func (f *fakeService) UnprocessedFiles(context.Context) ([]string, error) {
	return f.unprocessed, nil
}

func (f *fakeService) ProcessedDocuments(context.Context) ([]string, error) {
	return f.processed, nil
}

func (f *fakeService) Ingest(context.Context) (*domain.IngestReport, error) {
	f.ingests++
	f.processed = append(f.processed, f.unprocessed...)
	n := len(f.unprocessed)
	f.unprocessed = nil
	return &domain.IngestReport{Documents: n, Chunks: n}, nil
}

func (f *fakeService) Answer(_ context.Context, _ string, docs []string) (*domain.Answer, error) {
	f.asked = append(f.asked, docs)
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	return &domain.Answer{
		Text:    "Paris.",
		Sources: []domain.SearchResult{{Text: "Paris is the capital of France.", Metadata: domain.Metadata{SourcePath: "data/a.txt"}, Score: 0.9}},
	}, nil
}

// step feeds msg to the model and runs the resulting command once,
// feeding its message back in.
func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		return m
	}
	if out := cmd(); out != nil {
		if _, isBatch := out.(tea.BatchMsg); !isBatch {
			next, _ = m.Update(out)
			m = next.(Model)
		}
	}
	return m
}

func loaded(t *testing.T, svc *fakeService) Model {
	t.Helper()
	m := New(context.Background(), svc, nil)
	m = step(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ := m.Update(m.refresh()())
	return next.(Model)
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_AllProcessedDocumentsSelectedByDefault(t *testing.T) {
	m := loaded(t, &fakeService{processed: []string{"a.txt", "b.txt"}, unprocessed: []string{"c.txt"}})

	assert.Equal(t, []string{"a.txt", "b.txt"}, m.selectedDocuments())
	assert.Contains(t, m.status, "1 new file(s)")
	assert.Contains(t, m.View(), "[x] a.txt")
	assert.Contains(t, m.View(), "c.txt")
}

func TestModel_ToggleSelectionAndAsk(t *testing.T) {
	svc := &fakeService{processed: []string{"a.txt", "b.txt"}}
	m := loaded(t, svc)

	m = step(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = step(t, m, keys("j"))
	m = step(t, m, keys(" "))
	assert.Equal(t, []string{"a.txt"}, m.selectedDocuments())

	m = step(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m.input.SetValue("What is the capital of France?")
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	require.Len(t, svc.asked, 1)
	assert.Equal(t, []string{"a.txt"}, svc.asked[0])
	require.NotNil(t, m.answer)
	assert.Contains(t, m.renderAnswer(), "Paris.")
	assert.Contains(t, m.renderAnswer(), "a.txt")
}

func TestModel_EmptySelectionDoesNotAsk(t *testing.T) {
	svc := &fakeService{processed: []string{"a.txt"}}
	m := loaded(t, svc)

	m = step(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = step(t, m, keys("a"))
	assert.Empty(t, m.selectedDocuments())

	m = step(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m.input.SetValue("anything")
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Empty(t, svc.asked)
	assert.Contains(t, m.status, "Select at least one document")
}

func TestModel_NoProcessedDocuments(t *testing.T) {
	svc := &fakeService{unprocessed: []string{"a.txt"}}
	m := loaded(t, svc)

	m.input.SetValue("anything")
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Empty(t, svc.asked)
	assert.Contains(t, m.status, "No processed documents")
}

func TestModel_ProcessNewFiles(t *testing.T) {
	svc := &fakeService{processed: []string{"a.txt"}, unprocessed: []string{"b.txt"}}
	m := loaded(t, svc)

	m = step(t, m, tea.KeyMsg{Type: tea.KeyCtrlP})
	assert.Equal(t, 1, svc.ingests)
	assert.Contains(t, m.status, "Processed 1 document(s)")

	next, _ := m.Update(m.refresh()())
	m = next.(Model)
	assert.Equal(t, []string{"a.txt", "b.txt"}, m.selectedDocuments())
	assert.Empty(t, m.unprocessed)

	m = step(t, m, tea.KeyMsg{Type: tea.KeyCtrlP})
	assert.Equal(t, 1, svc.ingests)
	assert.Equal(t, "No new files to process.", m.status)
}

func TestModel_DeselectionSurvivesRefresh(t *testing.T) {
	svc := &fakeService{processed: []string{"a.txt", "b.txt"}}
	m := loaded(t, svc)
	m.selected["a.txt"] = false

	svc.processed = []string{"a.txt", "b.txt", "c.txt"}
	next, _ := m.Update(m.refresh()())
	m = next.(Model)

	assert.Equal(t, []string{"b.txt", "c.txt"}, m.selectedDocuments())
}

func TestModel_AnswerErrors(t *testing.T) {
	svc := &fakeService{processed: []string{"a.txt"}, answerErr: errors.Join(domain.ErrGeneration, domain.ErrTimeout)}
	m := loaded(t, svc)

	m.input.SetValue("q")
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Nil(t, m.answer)
	assert.Contains(t, m.status, "Timed out")
}

func TestModel_DirectoryChangeRefreshes(t *testing.T) {
	changes := make(chan struct{}, 1)
	m := New(context.Background(), &fakeService{}, changes)

	changes <- struct{}{}
	msg := m.waitForChange()()
	assert.Equal(t, dirChangedMsg{}, msg)

	close(changes)
	assert.Nil(t, m.waitForChange()())
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("Bananas are yellow. Paris is the capital of France.", "capital of France")
	assert.Contains(t, out, "Bananas are yellow.")
	assert.Contains(t, out, "Paris is the capital of France.")
}
