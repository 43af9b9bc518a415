// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"errors"
	"slices"
	"sort"

	"github.com/teradata-labs/hive/pkg/agent"
	"github.com/teradata-labs/hive/pkg/types"
)

// ErrNoEligibleAssignee is returned when every candidate is excluded,
// saturated, or the wrong role for an assignment.
var ErrNoEligibleAssignee = errors.New("orchestration: no eligible assignee")

// Sub-coordinator selection weights. Capacity dominates so that groups with
// idle workers absorb new tasks before already-busy groups.
const (
	subCapacityWeight    = 0.30
	subLoadWeight        = 0.25
	subReliabilityWeight = 0.20
	subSpeedWeight       = 0.15
	subSkillWeight       = 0.10
)

// Direct worker selection weights. Reliability and role fit dominate skill
// overlap because skill lists from decomposition are noisy.
const (
	workerReliabilityWeight = 0.30
	workerRoleWeight        = 0.30
	workerSkillWeight       = 0.25
	workerIdleWeight        = 0.15

	workerIdleScale = 10
)

func scoreSubCoordinator(node *types.TaskNode, p *types.Performance) float64 {
	capacity := 0.0
	if p.WorkerCount > 0 {
		capacity = float64(p.AvailableWorkers) / float64(p.WorkerCount)
	}
	loadBalance := agent.LoadFactor(p.CurrentLoad, agent.DefaultMaxLoad)
	speed := 1.0 / (1.0 + p.AvgDuration)
	skill := agent.SkillMatch(node.RequiredSkills, p.Skills)
	return subCapacityWeight*capacity +
		subLoadWeight*loadBalance +
		subReliabilityWeight*p.Reliability +
		subSpeedWeight*speed +
		subSkillWeight*skill
}

func scoreWorker(node *types.TaskNode, p *types.Performance) float64 {
	skill := agent.SkillMatch(node.RequiredSkills, p.Skills)
	role := 0.0
	if agent.InferRole(node.Content) == p.Role {
		role = 1.0
	}
	load := p.CurrentLoad
	if load > workerIdleScale {
		load = workerIdleScale
	}
	idle := 1.0 - float64(load)/workerIdleScale
	return workerReliabilityWeight*p.Reliability +
		workerSkillWeight*skill +
		workerRoleWeight*role +
		workerIdleWeight*idle
}

// pickSubCoordinator chooses the best sub-coordinator for node, skipping
// excluded ids and groups with no available workers. Ties break to the
// lowest current load, then the lexicographically smallest id.
func pickSubCoordinator(node *types.TaskNode, candidates map[string]types.Performance, exclude []string) (string, error) {
	best := pick{}
	for _, id := range sortedIDs(candidates) {
		p := candidates[id]
		if p.Role != types.RoleSubCoordinator {
			continue
		}
		if slices.Contains(exclude, id) {
			continue
		}
		if p.AvailableWorkers == 0 {
			continue
		}
		best.offer(id, scoreSubCoordinator(node, &p), p.CurrentLoad)
	}
	if best.id == "" {
		return "", ErrNoEligibleAssignee
	}
	return best.id, nil
}

// pickWorker chooses the best directly-managed worker for node. Ties break
// the same way as pickSubCoordinator.
func pickWorker(node *types.TaskNode, candidates map[string]types.Performance, exclude []string) (string, error) {
	best := pick{}
	for _, id := range sortedIDs(candidates) {
		p := candidates[id]
		if p.Role == types.RoleCoordinator || p.Role == types.RoleSubCoordinator {
			continue
		}
		if slices.Contains(exclude, id) {
			continue
		}
		if p.CurrentLoad >= agent.DefaultMaxLoad || p.Reliability < agent.DefaultMinReliability {
			continue
		}
		best.offer(id, scoreWorker(node, &p), p.CurrentLoad)
	}
	if best.id == "" {
		return "", ErrNoEligibleAssignee
	}
	return best.id, nil
}

// pick tracks the running best candidate. Candidates must be offered in
// lexicographic id order so equal score and load keep the smallest id.
type pick struct {
	id    string
	score float64
	load  int
}

func (b *pick) offer(id string, score float64, load int) {
	if b.id == "" ||
		score > b.score ||
		(score == b.score && load < b.load) {
		b.id, b.score, b.load = id, score, load
	}
}

func sortedIDs(candidates map[string]types.Performance) []string {
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
