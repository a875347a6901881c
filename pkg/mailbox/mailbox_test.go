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

package mailbox

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/modgrid/modgrid-core/pkg/allocator"
	"github.com/modgrid/modgrid-core/pkg/store"
)

func TestSendReceiveControl(t *testing.T) {
	mbox := NewMailbox(store.NewMemoryStore(), 4, 8)
	sent := &ControlMessage{
		Kind:   ControlStart,
		Config: map[string]string{"threads": "4"},
	}
	assert.Assert(t, mbox.Send(0, sent))
	assert.Assert(t, mbox.HasPending(0))

	msg, ok := mbox.TryReceive(0)
	assert.Assert(t, ok)
	control, isControl := msg.(*ControlMessage)
	assert.Assert(t, isControl)
	assert.Equal(t, control.Kind, ControlStart)
	assert.Equal(t, control.Config["threads"], "4")
	assert.Assert(t, !mbox.HasPending(0))
}

func TestSendReceiveStatus(t *testing.T) {
	mbox := NewMailbox(store.NewMemoryStore(), 4, 8)
	sent := NewStatusMessage("m1", StatusData{
		IsActive:      true,
		IsHealthy:     true,
		CapacityUsage: 12.5,
		ResourceRequest: &allocator.ResourceRequest{
			ModuleName:  "m1",
			MinCapacity: 10,
			MaxCapacity: 50,
		},
	})
	assert.Assert(t, mbox.Send(1, sent))

	msg, ok := mbox.TryReceive(1)
	assert.Assert(t, ok)
	status, isStatus := msg.(*StatusMessage)
	assert.Assert(t, isStatus)
	assert.Equal(t, status.Type, StatusUpdateType)
	assert.Equal(t, status.ModuleName, "m1")
	assert.Equal(t, status.Data.CapacityUsage, 12.5)
	assert.Equal(t, status.Data.ResourceRequest.MaxCapacity, 50.0)
}

func TestReceiveEmptyChannelIsNotAnError(t *testing.T) {
	mbox := NewMailbox(store.NewMemoryStore(), 4, 8)
	msg, ok := mbox.TryReceive(0)
	assert.Assert(t, !ok)
	assert.Assert(t, msg == nil)
	assert.Assert(t, !mbox.HasPending(0))
}

// three sends into a channel of capacity one leave exactly the most recent
// message behind.
func TestOverwriteOnFull(t *testing.T) {
	mbox := NewMailbox(store.NewMemoryStore(), 2, 1)
	mbox.Send(0, &ControlMessage{Kind: ControlStart})
	mbox.Send(0, &ControlMessage{Kind: ControlPause})
	mbox.Send(0, &ControlMessage{Kind: ControlResume})

	assert.Assert(t, mbox.HasPending(0))
	msg, ok := mbox.TryReceive(0)
	assert.Assert(t, ok)
	assert.Equal(t, msg.(*ControlMessage).Kind, ControlResume)
	assert.Assert(t, !mbox.HasPending(0))
}

func TestFIFOOrder(t *testing.T) {
	mbox := NewMailbox(store.NewMemoryStore(), 2, 8)
	for _, kind := range []ControlKind{ControlStart, ControlPause, ControlResume} {
		mbox.Send(0, &ControlMessage{Kind: kind})
	}
	drained := mbox.Drain(0)
	assert.Equal(t, len(drained), 3)
	assert.Equal(t, drained[0].(*ControlMessage).Kind, ControlStart)
	assert.Equal(t, drained[1].(*ControlMessage).Kind, ControlPause)
	assert.Equal(t, drained[2].(*ControlMessage).Kind, ControlResume)
}

func TestChannelsAreIndependent(t *testing.T) {
	mbox := NewMailbox(store.NewMemoryStore(), 4, 8)
	mbox.Send(0, &ControlMessage{Kind: ControlStop})
	assert.Assert(t, !mbox.HasPending(1))
	assert.Assert(t, mbox.HasPending(0))
}

func TestUnknownChannelRejected(t *testing.T) {
	mbox := NewMailbox(store.NewMemoryStore(), 2, 8)
	assert.Assert(t, !mbox.Send(-1, &ControlMessage{Kind: ControlStop}))
	assert.Assert(t, !mbox.Send(2, &ControlMessage{Kind: ControlStop}))
	_, ok := mbox.TryReceive(99)
	assert.Assert(t, !ok)
}

func TestMessagesSurviveMailboxReinstantiation(t *testing.T) {
	memStore := store.NewMemoryStore()
	first := NewMailbox(memStore, 2, 8)
	first.Send(0, &ControlMessage{Kind: ControlConfigUpdate, Config: map[string]string{"a": "b"}})

	// a module process builds its own mailbox over the shared store
	second := NewMailbox(memStore, 2, 8)
	msg, ok := second.TryReceive(0)
	assert.Assert(t, ok)
	assert.Equal(t, msg.(*ControlMessage).Kind, ControlConfigUpdate)
}

func TestAllocationRoundTrip(t *testing.T) {
	mbox := NewMailbox(store.NewMemoryStore(), 2, 8)
	mbox.Send(0, &ControlMessage{
		Kind: ControlResourceAllocation,
		Allocation: &allocator.CapacityAllocation{
			ModuleName:        "m1",
			AllocatedTotal:    120,
			PerNodeAllocation: map[string]float64{"n1": 50, "home": 70},
		},
	})
	msg, ok := mbox.TryReceive(0)
	assert.Assert(t, ok)
	alloc := msg.(*ControlMessage).Allocation
	assert.Assert(t, alloc != nil)
	assert.Equal(t, alloc.AllocatedTotal, 120.0)
	assert.Equal(t, alloc.PerNodeAllocation["home"], 70.0)
}
