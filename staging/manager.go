package staging

import (
	"context"
	"errors"
	"fmt"

	"github.com/perfgo/runtests/model"
	"github.com/rs/zerolog"
)

// ErrStaging marks failures to prepare the remote working area.
var ErrStaging = errors.New("staging failed")

// Manager stages tests on one device.
type Manager struct {
	logger zerolog.Logger
	bridge Bridge
	layout Layout
	newID  func() (string, error)
}

// NewManager creates a manager uploading through bridge according to layout.
func NewManager(logger zerolog.Logger, bridge Bridge, layout Layout) *Manager {
	return &Manager{
		logger: logger,
		bridge: bridge,
		layout: layout,
		newID:  NewSessionID,
	}
}

// With stages test in a fresh session and calls fn with it. The session is
// torn down once fn returns, when staging fails part way and when fn panics.
// Errors preparing the session wrap ErrStaging; errors from fn are returned
// unchanged.
func (m *Manager) With(ctx context.Context, test model.TestSpec, fn func(ctx context.Context, s *Session) error) error {
	id, err := m.newID()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStaging, err)
	}

	plan, err := m.layout.Plan(test, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStaging, err)
	}

	s := &Session{
		ID:       id,
		Test:     test.Name,
		Root:     plan.Root,
		TempRoot: plan.TempRoot,
		PkgRoot:  plan.PkgRoot,
		logger:   m.logger,
		bridge:   m.bridge,
	}
	defer s.Close(ctx)

	dirs := RequiredDirs(append([]string{plan.Root}, plan.Dirs...), plan.Destinations())
	m.logger.Debug().
		Str("test", test.Name).
		Str("root", plan.Root).
		Strs("dirs", dirs).
		Int("uploads", len(plan.Uploads)).
		Msg("Staging test")

	if err := m.bridge.Run(ctx, append([]string{"mkdir", "-p"}, dirs...)); err != nil {
		return fmt.Errorf("%w: failed to create remote directories: %w", ErrStaging, err)
	}
	for _, u := range plan.Uploads {
		if err := m.bridge.Copy(ctx, u.Local, u.Remote); err != nil {
			return fmt.Errorf("%w: %w", ErrStaging, err)
		}
	}

	return fn(ctx, s)
}
