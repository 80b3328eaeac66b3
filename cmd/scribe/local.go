package main

import (
	"context"

	"scribe/internal/api"
	"scribe/internal/parcel"
	"scribe/internal/session"
	"scribe/internal/txn"
)

// local runs requests against the working tree in this process.
type local struct {
	p *parcel.Parcel
}

func (l *local) OpenSession(ctx context.Context) (string, error) {
	h, err := l.p.OpenSession(ctx)
	if err != nil {
		return "", err
	}
	return h.ID, nil
}

func (l *local) CloseSession(ctx context.Context, id string) error {
	return l.p.CloseSession(ctx, id)
}

func (l *local) ListSessions(ctx context.Context) ([]session.Record, error) {
	return l.p.ListSessions(ctx)
}

func (l *local) Read(ctx context.Context, path string) (*api.ReadFileResponse, error) {
	snap, err := l.p.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return api.NewReadFileResponse(snap)
}

func (l *local) Write(ctx context.Context, req api.WriteFileRequest) (*parcel.Result, error) {
	h, err := l.p.Session(ctx, req.Session)
	if err != nil {
		return nil, err
	}
	return l.p.WriteFile(ctx, h, req.Path, req.Content, req.Description)
}

func (l *local) Edit(ctx context.Context, req api.EditFileRequest) (*parcel.Result, error) {
	h, err := l.p.Session(ctx, req.Session)
	if err != nil {
		return nil, err
	}
	return l.p.EditFile(ctx, h, parcel.Edit{
		Path:         req.Path,
		Old:          req.OldString,
		New:          req.NewString,
		Occurrences:  req.ExpectedReplacements,
		Description:  req.Description,
		ExpectedHash: req.ExpectedHash,
	})
}

func (l *local) Remove(ctx context.Context, req api.RemoveFileRequest) (*parcel.Result, error) {
	h, err := l.p.Session(ctx, req.Session)
	if err != nil {
		return nil, err
	}
	return l.p.RemoveFile(ctx, h, req.Path, req.Description)
}

func (l *local) Chmod(ctx context.Context, req api.ChmodRequest) (*parcel.Result, error) {
	h, err := l.p.Session(ctx, req.Session)
	if err != nil {
		return nil, err
	}
	return l.p.Chmod(ctx, h, req.Path, req.Mode, req.Description)
}

func (l *local) Recover(ctx context.Context) (txn.RecoveryReport, error) {
	return l.p.Recover(ctx)
}

func (l *local) Close() error {
	return l.p.Close()
}
