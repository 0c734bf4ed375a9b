// Package orchestrator is the conversational pipeline: it resolves the
// session, classifies the command, folds in context from earlier turns,
// and dispatches to a backend service or the job engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aservis/maestro/internal/ctxstore"
	"github.com/aservis/maestro/internal/jobs"
	"github.com/aservis/maestro/internal/logger"
	"github.com/aservis/maestro/internal/nlp"
	"github.com/aservis/maestro/internal/router"
)

var log = logger.ForComponent("orchestrator")

// ConfidenceThreshold is the minimum classification confidence a command
// needs before it is acted on.
const ConfidenceThreshold = 0.4

const (
	defaultUser      = "local"
	defaultInterface = "text"

	defaultVolume = 50
	volumeStep    = 10

	volumeLevelKey = "volume_level"
)

type Deps struct {
	Store      *ctxstore.Store
	Classifier *nlp.Classifier
	Router     *router.Router
	Engine     *jobs.Engine
	// Downloads may be nil; download rows then live only in memory.
	Downloads    *jobs.Store
	WorkingDir   string
	VoiceEnabled bool
}

type Orchestrator struct {
	store      *ctxstore.Store
	classifier *nlp.Classifier
	router     *router.Router
	engine     *jobs.Engine
	downloads  *jobs.Store
	workingDir string
	voiceOK    bool
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		store:      deps.Store,
		classifier: deps.Classifier,
		router:     deps.Router,
		engine:     deps.Engine,
		downloads:  deps.Downloads,
		workingDir: deps.WorkingDir,
		voiceOK:    deps.VoiceEnabled,
	}
}

// HandleCommand is the adapter entry point: it gates the interface,
// resolves or creates the session, then runs the pipeline. The returned
// session id is the one actually used, so callers can stick with it.
func (o *Orchestrator) HandleCommand(ctx context.Context, text, sessionID, userID, iface string) (string, string, error) {
	if iface == "" {
		iface = defaultInterface
	}
	if !ctxstore.ValidInterfaceType(iface) {
		return "", "", fmt.Errorf("unknown interface type: %s", iface)
	}
	if iface == "voice" && !o.voiceOK {
		return "", "", errors.New("voice interface is not enabled")
	}
	if userID == "" {
		userID = defaultUser
	}

	sess, err := o.resolveSession(sessionID, userID, iface)
	if err != nil {
		return "", "", err
	}

	response, err := o.run(ctx, text, sess)
	return response, sess.SessionID, err
}

// ProcessCommand runs the pipeline against an existing session, creating
// a default one when sessionID is empty or no longer known.
func (o *Orchestrator) ProcessCommand(ctx context.Context, text, sessionID string) (string, error) {
	sess, err := o.resolveSession(sessionID, defaultUser, defaultInterface)
	if err != nil {
		return "", err
	}
	return o.run(ctx, text, sess)
}

func (o *Orchestrator) resolveSession(sessionID, userID, iface string) (*ctxstore.SessionContext, error) {
	if sessionID != "" {
		sess, err := o.store.GetSession(sessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ctxstore.ErrNotFound) {
			return nil, err
		}
		log.Debug("session not found, starting fresh", "session", sessionID)
	}
	return o.store.CreateSession(userID, iface)
}

func (o *Orchestrator) run(ctx context.Context, text string, sess *ctxstore.SessionContext) (string, error) {
	result := o.classifier.Parse(text)
	o.applyContext(&result, sess, text)

	log.Debug("command classified",
		"session", sess.SessionID,
		"intent", result.Intent,
		"confidence", result.Confidence)

	if result.Intent == nlp.IntentUnknown || result.Confidence < ConfidenceThreshold {
		response := fmt.Sprintf("I didn't understand: %s", text)
		o.appendHistory(sess.SessionID, text, response)
		return response, nil
	}

	var outcome router.Outcome
	if result.Intent == nlp.IntentDownload {
		outcome = o.submitDownload(ctx, result)
	} else {
		var err error
		outcome, err = o.router.Route(ctx, result.Intent, result.Parameters)
		if err != nil {
			return "", err
		}
	}

	o.remember(sess, result, outcome)
	o.appendHistory(sess.SessionID, text, outcome.Response)
	return outcome.Response, nil
}

// applyContext resolves relative and referential commands against the
// session: "louder" against the last volume level, pronouns against the
// previous command's parameters.
func (o *Orchestrator) applyContext(result *nlp.Result, sess *ctxstore.SessionContext, text string) {
	if dir, ok := nlp.RelativeVolume(*result); ok {
		level := o.lastVolume(sess)
		if dir == "up" {
			level += volumeStep
		} else {
			level -= volumeStep
		}
		result.Parameters["level"] = strconv.Itoa(clampLevel(level))
	}

	if sess.LastIntent == "" || sess.LastIntent == nlp.IntentUnknown || !nlp.ReferencesContext(text) {
		return
	}

	if result.Intent == nlp.IntentUnknown {
		// "again" and friends replay the previous command outright; a
		// resolved reference counts as a full match.
		result.Intent = sess.LastIntent
		result.Confidence = 1
		result.Parameters = cloneParams(sess.LastParameters)
		return
	}

	if result.Intent != sess.LastIntent {
		return
	}

	// Same intent: scrub captured pronouns, then inherit what is missing.
	for k, v := range result.Parameters {
		if nlp.IsContextWord(v) {
			delete(result.Parameters, k)
		}
	}
	for k, v := range sess.LastParameters {
		if _, ok := result.Parameters[k]; !ok {
			result.Parameters[k] = v
		}
	}
}

func (o *Orchestrator) submitDownload(ctx context.Context, result nlp.Result) router.Outcome {
	url := result.Parameters["url"]
	if url == "" {
		return router.Outcome{Response: fmt.Sprintf("I didn't find a url in: %s", result.OriginalText)}
	}

	job, err := jobs.NewDownloadJob(url, o.workingDir, nil, o.downloads)
	if err != nil {
		return router.Outcome{Response: fmt.Sprintf("can't download %s: %v", url, err)}
	}

	id, err := o.engine.Submit(job, jobs.PriorityNormal, jobs.NotifierFromContext(ctx))
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			return router.Outcome{Response: "download queue is full, try again later"}
		}
		return router.Outcome{Response: fmt.Sprintf("download failed to start: %v", err)}
	}

	log.Info("download submitted", "job", id, "url", url)
	return router.Outcome{Response: fmt.Sprintf("download started (job %d)", id), OK: true}
}

// remember folds the exchange into the session's running state. Volume
// levels stick in serviceState so "louder" has a baseline next turn.
func (o *Orchestrator) remember(sess *ctxstore.SessionContext, result nlp.Result, outcome router.Outcome) {
	sess.LastIntent = result.Intent
	sess.LastParameters = cloneParams(result.Parameters)
	if outcome.Service != "" {
		sess.LastUsedService = outcome.Service
	}
	if outcome.OK && result.Intent == nlp.IntentControlVolume {
		if level, ok := result.Parameters["level"]; ok {
			if sess.ServiceState == nil {
				sess.ServiceState = make(map[string]string)
			}
			sess.ServiceState[volumeLevelKey] = level
		}
	}
	if err := o.store.UpdateSession(sess); err != nil {
		log.Warn("session update failed", "session", sess.SessionID, "error", err)
	}
}

func (o *Orchestrator) appendHistory(sessionID, command, response string) {
	if err := o.store.AddCommandToHistory(sessionID, command, response); err != nil {
		log.Warn("history append failed", "session", sessionID, "error", err)
	}
}

func (o *Orchestrator) lastVolume(sess *ctxstore.SessionContext) int {
	if raw, ok := sess.ServiceState[volumeLevelKey]; ok {
		if level, err := strconv.Atoi(raw); err == nil {
			return level
		}
	}
	return defaultVolume
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}

func cloneParams(m map[string]string) map[string]string {
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
