package mapsync

import (
	"sort"

	"voxelwire.io/internal/protocol"
)

// Selector decides which chunks a session should hold, in send priority
// order, given the chunk the player is in.
type Selector interface {
	Wanted(center protocol.ChunkCoord) []protocol.ChunkCoord
}

// NearestFirst wants every chunk within Radius (Manhattan in x/z) and
// VerticalRadius (in y) of the center, closest first.
type NearestFirst struct {
	Radius         int
	VerticalRadius int
	MaxChunks      int
}

func (s NearestFirst) Wanted(center protocol.ChunkCoord) []protocol.ChunkCoord {
	r := s.Radius
	if r <= 0 {
		r = 1
	}
	vr := s.VerticalRadius
	if vr < 0 {
		vr = 0
	}
	limit := s.MaxChunks
	if limit <= 0 {
		limit = 1024
	}
	type item struct {
		c    protocol.ChunkCoord
		dist int
	}
	items := make([]item, 0, (2*r+1)*(2*r+1)*(2*vr+1))
	for dy := -vr; dy <= vr; dy++ {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				if abs(dx)+abs(dz) > r {
					continue
				}
				c := protocol.ChunkCoord{X: center.X + int32(dx), Y: center.Y + int32(dy), Z: center.Z + int32(dz)}
				items = append(items, item{c: c, dist: abs(dx) + abs(dy) + abs(dz)})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		return less(items[i].c, items[j].c)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]protocol.ChunkCoord, len(items))
	for i, it := range items {
		out[i] = it.c
	}
	return out
}

func less(a, b protocol.ChunkCoord) bool {
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	return a.X < b.X
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
