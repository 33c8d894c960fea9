// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package pubsub

import (
	"testing"

	"github.com/specialistvlad/gridflow/internal/node"
	"github.com/stretchr/testify/assert"
)

func TestBus(t *testing.T) {
	b := New()
	var got []string

	unsubA := b.Subscribe("a", func(ev Event) { got = append(got, "a1:"+ev.To.String()) })
	b.Subscribe("a", func(ev Event) { got = append(got, "a2:"+ev.To.String()) })
	b.Subscribe("", func(ev Event) { got = append(got, "all:"+ev.NodeID) })

	b.Publish(Event{NodeID: "a", From: node.Idle, To: node.Queued})
	b.Publish(Event{NodeID: "b", From: node.Idle, To: node.Queued})
	unsubA()
	unsubA()
	b.Publish(Event{NodeID: "a", From: node.Queued, To: node.Executing})

	assert.Equal(t, []string{
		"a1:QUEUED", "a2:QUEUED", "all:a",
		"all:b",
		"a2:EXECUTING", "all:a",
	}, got)
	assert.Equal(t, 2, b.Len())
}
