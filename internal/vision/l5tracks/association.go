package l5tracks

import (
	"slices"

	"github.com/banshee-data/scenewatch/internal/vision/l4perception"
)

// IoUMatrix holds pairwise overlap between detections (rows) and tracks
// (columns). Dimensions are explicit so an empty side is still described.
type IoUMatrix struct {
	Detections int
	Tracks     int
	Values     [][]float64 // Values[d][t]
}

// NewIoUMatrix computes IoU for every detection/track box pair.
func NewIoUMatrix(dets, tracks []l4perception.BBox) IoUMatrix {
	m := IoUMatrix{Detections: len(dets), Tracks: len(tracks), Values: make([][]float64, len(dets))}
	for d, db := range dets {
		row := make([]float64, len(tracks))
		for t, tb := range tracks {
			row[t] = l4perception.IoU(db, tb)
		}
		m.Values[d] = row
	}
	return m
}

// Match pairs a detection index with a track index (column in the matrix).
type Match struct {
	Detection int
	Track     int
	IoU       float64
}

// Assignment is the outcome of one association round. Every detection and
// every track index appears exactly once across Matches and the unmatched
// lists. Unmatched lists are ascending.
type Assignment struct {
	Matches             []Match
	UnmatchedDetections []int
	UnmatchedTracks     []int
}

// Associator produces a one-to-one assignment where every match has
// IoU ≥ threshold.
type Associator interface {
	Associate(m IoUMatrix, threshold float64) Assignment
}

// GreedyAssociator commits candidate pairs in order of descending IoU,
// breaking ties by lower detection index then lower track index.
// The result depends only on the matrix contents.
type GreedyAssociator struct{}

func (GreedyAssociator) Associate(m IoUMatrix, threshold float64) Assignment {
	var candidates []Match
	for d := 0; d < m.Detections; d++ {
		for t := 0; t < m.Tracks; t++ {
			if v := m.Values[d][t]; v >= threshold {
				candidates = append(candidates, Match{Detection: d, Track: t, IoU: v})
			}
		}
	}
	slices.SortFunc(candidates, func(a, b Match) int {
		switch {
		case a.IoU > b.IoU:
			return -1
		case a.IoU < b.IoU:
			return 1
		case a.Detection != b.Detection:
			return a.Detection - b.Detection
		default:
			return a.Track - b.Track
		}
	})

	detUsed := make([]bool, m.Detections)
	trackUsed := make([]bool, m.Tracks)
	var matches []Match
	for _, c := range candidates {
		if detUsed[c.Detection] || trackUsed[c.Track] {
			continue
		}
		detUsed[c.Detection] = true
		trackUsed[c.Track] = true
		matches = append(matches, c)
	}
	return finishAssignment(matches, detUsed, trackUsed)
}

// HungarianAssociator maximises total IoU over admissible pairs by solving
// the assignment problem on cost 1 - IoU. Pairs below threshold are
// forbidden.
type HungarianAssociator struct{}

func (HungarianAssociator) Associate(m IoUMatrix, threshold float64) Assignment {
	detUsed := make([]bool, m.Detections)
	trackUsed := make([]bool, m.Tracks)
	if m.Detections == 0 || m.Tracks == 0 {
		return finishAssignment(nil, detUsed, trackUsed)
	}

	cost := make([][]float64, m.Detections)
	for d := range cost {
		cost[d] = make([]float64, m.Tracks)
		for t := range cost[d] {
			if v := m.Values[d][t]; v >= threshold {
				cost[d][t] = 1 - v
			} else {
				cost[d][t] = forbiddenCost
			}
		}
	}

	var matches []Match
	for d, t := range hungarianAssign(cost) {
		if t < 0 {
			continue
		}
		detUsed[d] = true
		trackUsed[t] = true
		matches = append(matches, Match{Detection: d, Track: t, IoU: m.Values[d][t]})
	}
	return finishAssignment(matches, detUsed, trackUsed)
}

func finishAssignment(matches []Match, detUsed, trackUsed []bool) Assignment {
	slices.SortFunc(matches, func(a, b Match) int { return a.Detection - b.Detection })
	a := Assignment{Matches: matches}
	for d, used := range detUsed {
		if !used {
			a.UnmatchedDetections = append(a.UnmatchedDetections, d)
		}
	}
	for t, used := range trackUsed {
		if !used {
			a.UnmatchedTracks = append(a.UnmatchedTracks, t)
		}
	}
	return a
}
