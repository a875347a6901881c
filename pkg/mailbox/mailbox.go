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
	"fmt"

	"go.uber.org/zap"

	"github.com/modgrid/modgrid-core/pkg/log"
	"github.com/modgrid/modgrid-core/pkg/store"
)

// Mailbox is a fixed set of numbered, bounded, single-reader channels
// persisted through the state store so the orchestrator and its module
// processes can exchange messages on one host without a socket.
//
// The protocol favors freshness over completeness: a sender that finds a
// channel full clears it and writes anyway, so no message is guaranteed
// delivery. Receivers drain non-blockingly; an empty channel is the common
// case, not an error.
type Mailbox struct {
	store    store.Store
	channels int
	capacity int
}

type envelope struct {
	Class   string          `json:"class"`
	Control *ControlMessage `json:"control,omitempty"`
	Status  *StatusMessage  `json:"status,omitempty"`
}

type channelDoc struct {
	Messages []envelope `json:"messages"`
}

func NewMailbox(s store.Store, channels, capacity int) *Mailbox {
	return &Mailbox{
		store:    s,
		channels: channels,
		capacity: capacity,
	}
}

func (m *Mailbox) Channels() int {
	return m.channels
}

func channelKey(id int) string {
	return fmt.Sprintf("mailbox/channel-%d", id)
}

func (m *Mailbox) load(id int) *channelDoc {
	doc := &channelDoc{}
	// absent or malformed both read as empty
	m.store.Read(channelKey(id), doc)
	return doc
}

func wrap(msg Message) (envelope, bool) {
	switch v := msg.(type) {
	case *ControlMessage:
		return envelope{Class: classControl, Control: v}, true
	case *StatusMessage:
		return envelope{Class: classStatus, Status: v}, true
	default:
		return envelope{}, false
	}
}

func unwrap(env envelope) Message {
	switch env.Class {
	case classControl:
		return env.Control
	case classStatus:
		return env.Status
	default:
		return nil
	}
}

// Send appends msg to the channel, clearing the channel first when it is
// at capacity.
func (m *Mailbox) Send(id int, msg Message) bool {
	if id < 0 || id >= m.channels {
		log.Logger().Warn("send to unknown mailbox channel",
			zap.Int("channelID", id))
		return false
	}
	env, ok := wrap(msg)
	if !ok {
		log.Logger().Warn("unsupported message type dropped",
			zap.Int("channelID", id))
		return false
	}
	doc := m.load(id)
	if len(doc.Messages) >= m.capacity {
		log.Logger().Debug("mailbox channel full, dropping backlog",
			zap.Int("channelID", id),
			zap.Int("dropped", len(doc.Messages)))
		doc.Messages = nil
	}
	doc.Messages = append(doc.Messages, env)
	return m.store.Write(channelKey(id), doc)
}

// TryReceive pops the oldest message, reporting false when the channel is
// empty.
func (m *Mailbox) TryReceive(id int) (Message, bool) {
	if id < 0 || id >= m.channels {
		return nil, false
	}
	doc := m.load(id)
	if len(doc.Messages) == 0 {
		return nil, false
	}
	head := doc.Messages[0]
	doc.Messages = doc.Messages[1:]
	if !m.store.Write(channelKey(id), doc) {
		return nil, false
	}
	msg := unwrap(head)
	if msg == nil {
		// unknown class, skip it
		return m.TryReceive(id)
	}
	return msg, true
}

// HasPending reports whether the channel holds at least one message.
func (m *Mailbox) HasPending(id int) bool {
	if id < 0 || id >= m.channels {
		return false
	}
	return len(m.load(id).Messages) > 0
}

// Drain empties the channel and returns the messages in send order.
func (m *Mailbox) Drain(id int) []Message {
	var out []Message
	for {
		msg, ok := m.TryReceive(id)
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}
