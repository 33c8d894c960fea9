// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package testutil

import (
	"sort"
	"sync"
	"time"
)

// ExecutionRecord holds the start and end times for a single node's execution.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Recorder collects execution records and start order across stub models.
type Recorder struct {
	mu      sync.Mutex
	records map[string]*ExecutionRecord
	order   []string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{records: make(map[string]*ExecutionRecord)}
}

func (r *Recorder) start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id] = &ExecutionRecord{Start: time.Now()}
	r.order = append(r.order, id)
}

func (r *Recorder) end(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.End = time.Now()
	}
}

// Record returns the execution record of id.
func (r *Recorder) Record(id string) (ExecutionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *rec, true
}

// Order returns node ids in the order their execution started.
func (r *Recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Ran returns the sorted ids of every node that started executing.
func (r *Recorder) Ran() []string {
	ids := r.Order()
	sort.Strings(ids)
	return ids
}
