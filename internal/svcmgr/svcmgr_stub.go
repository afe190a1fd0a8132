//go:build !linux

package svcmgr

import (
	"context"
	"errors"
)

// ErrUnsupported is returned on platforms without systemd.
var ErrUnsupported = errors.New("svcmgr: unsupported OS (linux only)")

type Manager struct{}

func New(ctx context.Context, user bool) (*Manager, error) { return nil, ErrUnsupported }

func (m *Manager) Close() {}

func (m *Manager) Install(ctx context.Context, opts UnitOptions) (string, error) {
	return "", ErrUnsupported
}

func (m *Manager) Uninstall(ctx context.Context) error { return ErrUnsupported }

func (m *Manager) Start(ctx context.Context) error { return ErrUnsupported }

func (m *Manager) Stop(ctx context.Context) error { return ErrUnsupported }

func (m *Manager) Status(ctx context.Context) (*Status, error) { return nil, ErrUnsupported }

func Logs(ctx context.Context, user, follow bool, lines int) error { return ErrUnsupported }
