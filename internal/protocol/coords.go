package protocol

import "fmt"

// ChunkSize is the edge length of a cubic chunk, in blocks.
const ChunkSize = 16

// ChunkVolume is the number of blocks in one chunk.
const ChunkVolume = ChunkSize * ChunkSize * ChunkSize

type BlockCoord struct {
	X int32 `msgpack:"x"`
	Y int32 `msgpack:"y"`
	Z int32 `msgpack:"z"`
}

type ChunkCoord struct {
	X int32 `msgpack:"x"`
	Y int32 `msgpack:"y"`
	Z int32 `msgpack:"z"`
}

func (c BlockCoord) String() string { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }
func (c ChunkCoord) String() string { return fmt.Sprintf("[%d,%d,%d]", c.X, c.Y, c.Z) }

// Chunk returns the coordinate of the chunk containing c.
func (c BlockCoord) Chunk() ChunkCoord {
	return ChunkCoord{X: floorDiv(c.X, ChunkSize), Y: floorDiv(c.Y, ChunkSize), Z: floorDiv(c.Z, ChunkSize)}
}

// Offset returns the index of c inside its chunk (x fastest, then z, then y).
func (c BlockCoord) Offset() int {
	x := mod(c.X, ChunkSize)
	y := mod(c.Y, ChunkSize)
	z := mod(c.Z, ChunkSize)
	return int(x) + int(z)*ChunkSize + int(y)*ChunkSize*ChunkSize
}

// Block returns the world coordinate of the block at offset i inside c.
func (c ChunkCoord) Block(i int) BlockCoord {
	x := int32(i % ChunkSize)
	z := int32((i / ChunkSize) % ChunkSize)
	y := int32(i / (ChunkSize * ChunkSize))
	return BlockCoord{X: c.X*ChunkSize + x, Y: c.Y*ChunkSize + y, Z: c.Z*ChunkSize + z}
}

// Manhattan distance between chunk coordinates.
func (c ChunkCoord) Distance(o ChunkCoord) int {
	return absInt(int(c.X-o.X)) + absInt(int(c.Y-o.Y)) + absInt(int(c.Z-o.Z))
}

type Vec3 struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
	Z float64 `msgpack:"z"`
}

// BlockCoord truncates toward negative infinity.
func (v Vec3) BlockCoord() BlockCoord {
	return BlockCoord{X: floorF(v.X), Y: floorF(v.Y), Z: floorF(v.Z)}
}

type Angles struct {
	Deg1 float64 `msgpack:"d1"` // azimuth
	Deg2 float64 `msgpack:"d2"` // elevation
}

type PlayerPosition struct {
	Position Vec3   `msgpack:"pos"`
	Velocity Vec3   `msgpack:"vel"`
	Face     Angles `msgpack:"face"`
}

func floorDiv(a, b int32) int32 {
	q := a / b
	r := a % b
	if r != 0 && ((r > 0) != (b > 0)) {
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

func floorF(f float64) int32 {
	i := int32(f)
	if f < 0 && float64(i) != f {
		i--
	}
	return i
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
