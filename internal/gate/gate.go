// Package gate decides whether a path may be written at all. Nothing is
// written to a path the history log could not restore.
package gate

import (
	"context"
	"fmt"
	"os"

	"scribe/internal/config"
	"scribe/internal/errors"
	"scribe/internal/history"
	"scribe/internal/workspace"

	"go.uber.org/zap"
)

// Decision is an allowed write. Denials are returned as *errors.Error.
type Decision struct {
	Abs   string `json:"abs"`
	Rel   string `json:"rel"`
	IsNew bool   `json:"is_new"`
}

type Gate struct {
	ws     *workspace.LocalWorkspace
	log    history.Log
	cfg    config.Provider
	logger *zap.Logger
}

func New(ws *workspace.LocalWorkspace, log history.Log, cfg config.Provider, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{ws: ws, log: log, cfg: cfg, logger: logger}
}

// Authorize checks path against the rules below, first failure wins:
//
//  1. it resolves inside the working tree
//  2. it is not the history log's own storage
//  3. configuration does not mark it read-only
//  4. it is not a directory
//  5. it is tracked, or absent from both disk and the log (a new file)
func (g *Gate) Authorize(ctx context.Context, path string) (Decision, error) {
	abs, rel, inside, err := g.ws.Resolve(path)
	if err != nil {
		return Decision{}, errors.InvalidRequest(fmt.Sprintf("invalid path %q: %v", path, err))
	}
	if !inside {
		g.logger.Warn("write outside working tree denied", zap.String("path", path))
		return Decision{}, errors.Denied(errors.ReasonOutsideTree, path)
	}
	if g.ws.IsProtected(rel) {
		return Decision{}, errors.Denied(errors.ReasonProtected, rel)
	}
	if g.cfg != nil && !g.cfg.Editable(rel) {
		return Decision{}, errors.Denied(errors.ReasonNotEditable, rel)
	}

	info, statErr := os.Stat(abs)
	exists := statErr == nil
	if exists && info.IsDir() {
		return Decision{}, errors.InvalidRequest(fmt.Sprintf("%s is a directory", rel))
	}
	if statErr != nil && !os.IsNotExist(statErr) {
		return Decision{}, errors.Transaction("stat", rel, statErr)
	}

	tracked, err := g.log.IsTracked(ctx, rel)
	if err != nil {
		return Decision{}, errors.Transaction("is_tracked", rel, err)
	}

	d := Decision{Abs: abs, Rel: rel}
	switch {
	case tracked:
		return d, nil
	case !exists:
		d.IsNew = true
		return d, nil
	default:
		return Decision{}, errors.Denied(errors.ReasonUntracked, rel)
	}
}
