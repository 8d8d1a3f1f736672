package bridge

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/snapcase/internal/bus"
	"github.com/thebtf/snapcase/pkg/models"
)

// BusSurface implements the click-to-stop toggle by announcing mode changes
// on the bus. Connected UI surfaces swap their primary action and badge when
// they see the mode flip; the announcement goes out before the caller
// observes the toggle as complete.
type BusSurface struct {
	bus bus.Bus

	mu    sync.Mutex
	armed bool
}

func NewBusSurface(b bus.Bus) *BusSurface {
	return &BusSurface{bus: b}
}

// SetClickToStop arms or disarms click-to-stop mode.
func (s *BusSurface) SetClickToStop(armed bool) error {
	s.mu.Lock()
	changed := s.armed != armed
	s.armed = armed
	s.mu.Unlock()
	if !changed {
		return nil
	}

	env := models.MustEnvelope(models.MsgActionSurfaceMode, models.ContextCoordinator,
		models.ActionSurfaceMode{Armed: armed})
	n := s.bus.Broadcast(env)
	log.Debug().Bool("armed", armed).Int("receivers", n).Msg("Action surface mode changed")
	return nil
}

// Armed reports the current mode.
func (s *BusSurface) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}
