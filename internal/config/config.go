// Package config loads the server configuration file. The YAML is checked
// against an embedded JSON schema before it is decoded, so typos in keys are
// reported instead of silently ignored.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/session"
	"voxelwire.io/internal/session/mapsync"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "server.schema.json"

type Config struct {
	ListenAddr    string `yaml:"listen_addr"`
	TCPListenAddr string `yaml:"tcp_listen_addr"`
	DataDir       string `yaml:"data_dir"`
	CatalogDir    string `yaml:"catalog_dir"`
	MediaDir      string `yaml:"media_dir"`

	TickRateHz          int `yaml:"tick_rate_hz"`
	ViewDistanceChunks  int `yaml:"view_distance_chunks"`
	VerticalViewChunks  int `yaml:"vertical_view_chunks"`
	MaxChunksPerSession int `yaml:"max_chunks_per_session"`

	OutboxSize                int `yaml:"outbox_size"`
	MailboxSize               int `yaml:"mailbox_size"`
	HandledSequenceEveryTicks int `yaml:"handled_sequence_every_ticks"`

	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	AuthTimeout  Duration `yaml:"auth_timeout"`

	// Online players are saved this often, not only on disconnect.
	PlayerWritebackEvery Duration `yaml:"player_writeback_every"`

	// Keys the decoy salts of unknown users. Random per process when empty.
	AuthSecret string `yaml:"auth_secret"`

	Pacing Pacing `yaml:"pacing"`
	World  World  `yaml:"world"`
}

type Pacing struct {
	MaxPendingChunks    int     `yaml:"max_pending_chunks"`
	FullChunksPerSecond float64 `yaml:"full_chunks_per_second"`
	FullChunkBurst      int     `yaml:"full_chunk_burst"`
	MaxFullPerFlush     int     `yaml:"max_full_per_flush"`
}

type World struct {
	Seed       int64     `yaml:"seed"`
	SurfaceY   int32     `yaml:"surface_y"`
	Relief     int32     `yaml:"relief"`
	DirtDepth  int32     `yaml:"dirt_depth"`
	BedrockY   int32     `yaml:"bedrock_y"`
	RegionSize int32     `yaml:"region_size"`
	Spawn      []float64 `yaml:"spawn"`

	// Edited chunks are saved this often and at shutdown. Zero disables
	// periodic saves.
	SnapshotEvery Duration `yaml:"snapshot_every"`
	SnapshotsKeep int      `yaml:"snapshots_keep"`
}

// Duration is a time.Duration written as "30s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) D() time.Duration { return time.Duration(d) }

// Default is the configuration used for keys the file leaves out.
func Default() Config {
	return Config{
		ListenAddr:                ":8080",
		DataDir:                   "./data",
		CatalogDir:                "./configs",
		MediaDir:                  "./configs/media",
		TickRateHz:                20,
		ViewDistanceChunks:        4,
		VerticalViewChunks:        2,
		MaxChunksPerSession:       512,
		OutboxSize:                256,
		MailboxSize:               1024,
		HandledSequenceEveryTicks: 4,
		ReadTimeout:               Duration(60 * time.Second),
		WriteTimeout:              Duration(10 * time.Second),
		AuthTimeout:               Duration(30 * time.Second),
		PlayerWritebackEvery:      Duration(10 * time.Second),
		Pacing: Pacing{
			MaxPendingChunks:    64,
			FullChunksPerSecond: 200,
			FullChunkBurst:      64,
			MaxFullPerFlush:     32,
		},
		World: World{
			SurfaceY:   8,
			Relief:     6,
			DirtDepth:  3,
			BedrockY:   -48,
			RegionSize: 16,
			Spawn:      []float64{0.5, 20, 0.5},

			SnapshotEvery: Duration(5 * time.Minute),
			SnapshotsKeep: 3,
		},
	}
}

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile(schemaURL)
}

// Load reads path. A missing file is an error; an empty one yields Default.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates raw YAML against the schema and decodes it over Default.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return cfg, err
	}
	if doc == nil {
		return cfg, nil
	}
	// The validator wants encoding/json values.
	b, err := json.Marshal(doc)
	if err != nil {
		return cfg, fmt.Errorf("config is not a plain mapping: %w", err)
	}
	var jdoc any
	if err := json.Unmarshal(b, &jdoc); err != nil {
		return cfg, err
	}
	if err := schema.Validate(jdoc); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) TickInterval() time.Duration {
	if c.TickRateHz <= 0 {
		return 50 * time.Millisecond
	}
	return time.Second / time.Duration(c.TickRateHz)
}

func (c Config) Session() session.Config {
	return session.Config{
		TickInterval: c.TickInterval(),
		Pacing: mapsync.Config{
			MaxPendingChunks:    uint32(c.Pacing.MaxPendingChunks),
			FullChunksPerSecond: c.Pacing.FullChunksPerSecond,
			FullChunkBurst:      c.Pacing.FullChunkBurst,
			MaxFullPerFlush:     c.Pacing.MaxFullPerFlush,
		},
		HandledSequenceEveryTicks: c.HandledSequenceEveryTicks,
		OutboxSize:                c.OutboxSize,
		MailboxSize:               c.MailboxSize,
		ReadTimeout:               c.ReadTimeout.D(),
		WriteTimeout:              c.WriteTimeout.D(),
		AuthTimeout:               c.AuthTimeout.D(),
		PlayerWritebackEvery:      c.PlayerWritebackEvery.D(),
	}
}

func (c Config) Selector() mapsync.NearestFirst {
	return mapsync.NearestFirst{
		Radius:         c.ViewDistanceChunks,
		VerticalRadius: c.VerticalViewChunks,
		MaxChunks:      c.MaxChunksPerSession,
	}
}

func (c Config) Spawn() protocol.PlayerPosition {
	var p protocol.PlayerPosition
	if len(c.World.Spawn) == 3 {
		p.Position = protocol.Vec3{X: c.World.Spawn[0], Y: c.World.Spawn[1], Z: c.World.Spawn[2]}
	}
	return p
}
