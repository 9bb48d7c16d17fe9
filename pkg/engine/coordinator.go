/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: coordinator.go
Description: Engine-side glue for the distribution coordinator: computes
the local floor policy and exposes the frontier operations the
coordinator client needs, without pkg/coordinator importing pkg/frontier
directly.
*/

package engine

import (
	"context"

	"github.com/kleascm/avalanche-driver/pkg/model"
)

// floor returns the minimum number of local inputs the engine refuses to
// drop below when answering an "announce" request: 5*agents when
// protectMainAgent is set, otherwise 1.
func (e *Engine) floor() int {
	if e.cfg.ProtectMainAgent {
		return 5 * e.cfg.Agents
	}
	return 1
}

// talkToServer runs one post-iteration coordinator exchange. Any failure
// downgrades the engine to local-only mode for the remainder of the run.
func (e *Engine) talkToServer(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fe := &FrontierExchange{
		Len:   e.frontier.Len(),
		Floor: e.floor(),
		PopSecondHighest: func() (*model.Input, bool) {
			in, _, ok := e.frontier.PopSecondHighest()
			return in, ok
		},
		EffectiveConfig: &e.cfg,
	}

	if ok := e.coordinator.TalkToServer(ctx, fe); !ok {
		e.logger.Warning("avalanche: coordinator lost, downgrading to local-only mode", nil)
		e.coordinatorDown.Store(true)
		e.coordinator.Close()
	}
}
