/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package registry

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
)

// ----------------------------------
// module lifecycle states
// ----------------------------------
type State int

const (
	Stopped State = iota
	Starting
	Running
	Paused
	Error
)

func (s State) String() string {
	return [...]string{"stopped", "starting", "running", "paused", "error"}[s]
}

// ParseState maps a persisted state string back to its enum value.
func ParseState(s string) (State, bool) {
	for _, state := range []State{Stopped, Starting, Running, Paused, Error} {
		if state.String() == s {
			return state, true
		}
	}
	return Stopped, false
}

// newLifecycleFSM builds the module state machine seeded at the given
// state. Events are named after their destination state:
//
//	stopped -> starting -> running <-> paused
//	any state -> error, error -> starting (recovery)
//	starting/running/paused/error -> stopped
func newLifecycleFSM(current State) *fsm.FSM {
	return fsm.NewFSM(
		current.String(), fsm.Events{
			{
				Name: Starting.String(),
				Src:  []string{Stopped.String(), Error.String()},
				Dst:  Starting.String(),
			}, {
				Name: Running.String(),
				Src:  []string{Starting.String(), Paused.String()},
				Dst:  Running.String(),
			}, {
				Name: Paused.String(),
				Src:  []string{Starting.String(), Running.String()},
				Dst:  Paused.String(),
			}, {
				Name: Error.String(),
				Src:  []string{Stopped.String(), Starting.String(), Running.String(), Paused.String()},
				Dst:  Error.String(),
			}, {
				Name: Stopped.String(),
				Src:  []string{Starting.String(), Running.String(), Paused.String(), Error.String()},
				Dst:  Stopped.String(),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, event *fsm.Event) {
				log.Logger().Debug("module lifecycle transition",
					zap.String("source", event.Src),
					zap.String("destination", event.Dst))
			},
		},
	)
}

// transition applies the state machine from one state to another. A
// same-state transition is a no-op that succeeds; anything outside the
// machine's edges fails.
func transition(from, to State) (State, bool) {
	if from == to {
		return from, true
	}
	machine := newLifecycleFSM(from)
	if err := machine.Event(context.Background(), to.String()); err != nil {
		return from, false
	}
	result, ok := ParseState(machine.Current())
	return result, ok
}
