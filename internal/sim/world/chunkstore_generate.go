package world

import "voxelwire.io/internal/protocol"

// Generator fills a fresh chunk. It must be deterministic and must not block.
type Generator interface {
	Generate(c protocol.ChunkCoord, blocks []uint32)
}

// LayeredGen is a rolling-hills terrain: bedrock floor, stone, a dirt cap
// and air above.
type LayeredGen struct {
	Seed int64

	Air     uint32
	Dirt    uint32
	Stone   uint32
	Bedrock uint32

	SurfaceY   int32 // mean surface height
	Relief     int32 // max deviation from SurfaceY
	DirtDepth  int32
	BedrockY   int32
	RegionSize int32 // blocks per height sample
}

func (g LayeredGen) Generate(c protocol.ChunkCoord, blocks []uint32) {
	for z := int32(0); z < protocol.ChunkSize; z++ {
		for x := int32(0); x < protocol.ChunkSize; x++ {
			wx := c.X*protocol.ChunkSize + x
			wz := c.Z*protocol.ChunkSize + z
			top := g.heightAt(wx, wz)
			for y := int32(0); y < protocol.ChunkSize; y++ {
				wy := c.Y*protocol.ChunkSize + y
				b := g.Air
				switch {
				case wy <= g.BedrockY:
					b = g.Bedrock
				case wy > top:
					b = g.Air
				case wy > top-g.DirtDepth:
					b = g.Dirt
				default:
					b = g.Stone
				}
				blocks[x+z*protocol.ChunkSize+y*protocol.ChunkSize*protocol.ChunkSize] = b
			}
		}
	}
}

// heightAt bilinearly interpolates hashed heights on a RegionSize grid.
func (g LayeredGen) heightAt(wx, wz int32) int32 {
	if g.Relief <= 0 {
		return g.SurfaceY
	}
	r := g.RegionSize
	if r <= 0 {
		r = 16
	}
	gx, gz := floorDiv(wx, r), floorDiv(wz, r)
	fx := float64(mod(wx, r)) / float64(r)
	fz := float64(mod(wz, r)) / float64(r)
	h := func(x, z int32) float64 {
		return float64(hash2(g.Seed, x, z)%uint64(2*g.Relief+1)) - float64(g.Relief)
	}
	top := h(gx, gz)*(1-fx)*(1-fz) + h(gx+1, gz)*fx*(1-fz) + h(gx, gz+1)*(1-fx)*fz + h(gx+1, gz+1)*fx*fz
	return g.SurfaceY + int32(top)
}

func hash2(seed int64, x, z int32) uint64 {
	ux := uint64(uint32(x))
	uz := uint64(uint32(z))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if r := a % b; r != 0 && ((r > 0) != (b > 0)) {
		q--
	}
	return q
}

func mod(a, b int32) int32 {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}
