package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"studyai.dev/notes/internal/auth"
	"studyai.dev/notes/internal/ingest"
	"studyai.dev/notes/internal/rag"
	"studyai.dev/notes/internal/store"
)

var (
	ErrSessionBusy = errors.New("another action is already running for this session")
	ErrUnknownTask = errors.New("unknown task")
	ErrNotLoggedIn = errors.New("not logged in")
	ErrEmptyInput  = errors.New("message is empty")
)

const (
	TaskSummary   = "summary"
	TaskQuestions = "questions"
)

var taskPrompts = map[string]string{
	TaskSummary: "Summarize the key points and important concepts from the uploaded documents.",
	TaskQuestions: "Generate 5 important exam-style questions from the uploaded documents, " +
		"along with detailed answers.",
}

const (
	msgNoDocuments        = "No documents were provided."
	msgDocumentsProcessed = "Documents processed successfully!"
	msgNothingIndexedYet  = "No documents have been processed yet. Upload study materials first."
	msgNoHistory          = "No chat history found."
	msgHistoryUnavailable = "Chat history is not available."
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a user-visible message produced while handling an action.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

type Ingestor interface {
	Ingest(ctx context.Context, files []ingest.Blob, urls []string) (ingest.Result, error)
}

type DocumentIndex interface {
	Add(ctx context.Context, chunks []store.Chunk, userID string) error
	CountForUser(ctx context.Context, userID string) (int, error)
}

// PipelineFactory builds an answering pipeline bound to one user's documents.
type PipelineFactory func(userID string) (rag.Strategy, error)

type Assistant struct {
	ingestor     Ingestor
	index        DocumentIndex
	pipelines    PipelineFactory
	history      store.HistoryStore
	historyLimit int
	log          logrus.FieldLogger
}

func NewAssistant(ingestor Ingestor, index DocumentIndex, pipelines PipelineFactory, history store.HistoryStore, historyLimit int, log logrus.FieldLogger) *Assistant {
	if historyLimit <= 0 {
		historyLimit = store.DefaultHistoryLimit
	}
	return &Assistant{
		ingestor:     ingestor,
		index:        index,
		pipelines:    pipelines,
		history:      history,
		historyLimit: historyLimit,
		log:          log,
	}
}

type IngestReport struct {
	Documents int              `json:"documents"`
	Chunks    int              `json:"chunks"`
	Warnings  []ingest.Warning `json:"warnings,omitempty"`
	Notices   []Notice         `json:"notices"`
}

type TurnResult struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Notices  []Notice `json:"notices,omitempty"`
}

type HistoryView struct {
	Records []store.ChatRecord `json:"records"`
	Notices []Notice           `json:"notices,omitempty"`
}

type SessionView struct {
	SessionID string         `json:"session_id,omitempty"`
	User      *auth.Identity `json:"user,omitempty"`
	State     State          `json:"state"`
	Turns     []rag.Turn     `json:"turns"`
}

func (a *Assistant) logger(sess *Session) logrus.FieldLogger {
	return a.log.WithFields(logrus.Fields{"user": sess.UserID(), "session": sess.ID})
}

func acquire(sess *Session) (func(), error) {
	if sess == nil {
		return nil, ErrNotLoggedIn
	}
	if !sess.busy.TryLock() {
		return nil, ErrSessionBusy
	}
	return sess.busy.Unlock, nil
}

// EnsureReady binds a pipeline to the session if it has none yet.
func (a *Assistant) EnsureReady(sess *Session) error {
	if sess == nil {
		return ErrNotLoggedIn
	}
	if sess.boundPipeline() != nil {
		return nil
	}
	return a.rebind(sess)
}

func (a *Assistant) rebind(sess *Session) error {
	p, err := a.pipelines(sess.UserID())
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	sess.bind(p)
	return nil
}

// ProcessDocuments ingests uploads and URLs into the user's index and rebinds
// the session pipeline so the new chunks are visible to the next question.
func (a *Assistant) ProcessDocuments(ctx context.Context, sess *Session, files []ingest.Blob, urls []string) (IngestReport, error) {
	release, err := acquire(sess)
	if err != nil {
		return IngestReport{}, err
	}
	defer release()
	log := a.logger(sess)

	var report IngestReport
	if len(files) == 0 && !hasURL(urls) {
		report.Notices = append(report.Notices, Notice{LevelWarning, msgNoDocuments})
		return report, nil
	}

	res, err := a.ingestor.Ingest(ctx, files, urls)
	if err != nil {
		return report, err
	}
	report.Documents = res.Documents
	report.Warnings = res.Warnings
	for _, w := range res.Warnings {
		report.Notices = append(report.Notices, Notice{LevelWarning, fmt.Sprintf("%s: %s", w.Item, w.Message)})
	}

	if len(res.Chunks) == 0 {
		report.Notices = append(report.Notices, Notice{LevelWarning, msgNoDocuments})
		return report, nil
	}

	if err := a.index.Add(ctx, res.Chunks, sess.UserID()); err != nil {
		log.WithError(err).Error("Failed to index documents")
		report.Notices = append(report.Notices, Notice{LevelError, "Could not index your documents. Please try again."})
		return report, nil
	}
	report.Chunks = len(res.Chunks)

	if err := a.rebind(sess); err != nil {
		log.WithError(err).Error("Failed to rebuild pipeline")
		report.Notices = append(report.Notices, Notice{LevelError, "Documents were indexed but the assistant could not be prepared."})
		return report, nil
	}

	log.WithFields(logrus.Fields{"documents": report.Documents, "chunks": report.Chunks}).Info("Documents processed")
	report.Notices = append(report.Notices, Notice{LevelSuccess, msgDocumentsProcessed})
	return report, nil
}

// RunTask answers one of the canned study tasks as a chat turn.
func (a *Assistant) RunTask(ctx context.Context, sess *Session, task string) (TurnResult, error) {
	prompt, ok := taskPrompts[task]
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: %q", ErrUnknownTask, task)
	}
	release, err := acquire(sess)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	var notices []Notice
	n, err := a.index.CountForUser(ctx, sess.UserID())
	if err != nil {
		a.logger(sess).WithError(err).Warn("Failed to count indexed chunks")
	} else if n == 0 {
		notices = append(notices, Notice{LevelWarning, msgNothingIndexedYet})
	}

	res := a.turn(ctx, sess, prompt)
	res.Notices = append(notices, res.Notices...)
	return res, nil
}

// Chat answers one free-text message.
func (a *Assistant) Chat(ctx context.Context, sess *Session, input string) (TurnResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return TurnResult{}, ErrEmptyInput
	}
	release, err := acquire(sess)
	if err != nil {
		return TurnResult{}, err
	}
	defer release()

	return a.turn(ctx, sess, input), nil
}

// turn runs a single question through the pipeline. Failures become notices
// and a fallback answer; the turn is always recorded.
func (a *Assistant) turn(ctx context.Context, sess *Session, input string) TurnResult {
	log := a.logger(sess)
	res := TurnResult{Question: input}

	prior := sess.Turns()
	sess.appendTurn(rag.RoleHuman, input)

	answer, err := a.answer(ctx, sess, input, prior)
	if err != nil {
		log.WithError(err).Error("Failed to answer")
		res.Notices = append(res.Notices, Notice{LevelError, "Something went wrong while answering. Please try again."})
		answer = rag.FallbackAnswer
	}
	res.Answer = answer
	sess.appendTurn(rag.RoleAI, answer)

	if err := a.history.SaveChat(ctx, sess.UserID(), input, answer); err != nil {
		if errors.Is(err, store.ErrHistoryDisabled) {
			log.Debug("Chat history disabled, turn not saved")
		} else {
			log.WithError(err).Error("Failed to save chat")
			res.Notices = append(res.Notices, Notice{LevelWarning, "This chat could not be saved to your history."})
		}
	}
	return res
}

func (a *Assistant) answer(ctx context.Context, sess *Session, input string, prior []rag.Turn) (string, error) {
	if err := a.EnsureReady(sess); err != nil {
		return "", err
	}
	return sess.boundPipeline().Answer(ctx, input, prior)
}

// History returns the user's most recent saved turns, newest first.
func (a *Assistant) History(ctx context.Context, sess *Session, limit int) (HistoryView, error) {
	if sess == nil {
		return HistoryView{}, ErrNotLoggedIn
	}
	if limit <= 0 {
		limit = a.historyLimit
	}

	view := HistoryView{Records: []store.ChatRecord{}}
	records, err := a.history.GetUserHistory(ctx, sess.UserID(), limit)
	switch {
	case errors.Is(err, store.ErrHistoryDisabled):
		view.Notices = append(view.Notices, Notice{LevelInfo, msgHistoryUnavailable})
	case err != nil:
		a.logger(sess).WithError(err).Error("Failed to load chat history")
		view.Notices = append(view.Notices, Notice{LevelError, "Could not load your chat history."})
	case len(records) == 0:
		view.Notices = append(view.Notices, Notice{LevelInfo, msgNoHistory})
	default:
		view.Records = records
	}
	return view, nil
}

// View is the current render state of a session; a nil session is logged out.
func (a *Assistant) View(sess *Session) SessionView {
	if sess == nil {
		return SessionView{State: StateLoggedOut, Turns: []rag.Turn{}}
	}
	id := sess.Identity
	return SessionView{
		SessionID: sess.ID,
		User:      &id,
		State:     sess.State(),
		Turns:     sess.Turns(),
	}
}

func hasURL(urls []string) bool {
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			return true
		}
	}
	return false
}
