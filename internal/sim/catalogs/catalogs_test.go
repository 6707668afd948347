package catalogs

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"voxelwire.io/internal/protocol"
)

func repoConfigs(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime caller unavailable")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "configs")
}

func TestLoadRepoCatalogs(t *testing.T) {
	dir := repoConfigs(t)
	c, err := Load(dir, filepath.Join(dir, "media"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Blocks.Defs[0].ShortName != protocol.AirBlockName || c.Blocks.Defs[0].ID != 0 {
		t.Fatalf("air must be id 0, got %+v", c.Blocks.Defs[0])
	}
	stone, ok := c.Blocks.Lookup("default:stone")
	if !ok {
		t.Fatalf("missing stone")
	}
	if protocol.BlockVariant(stone.ID) != 0 || stone.ID == 0 {
		t.Fatalf("bad stone id %d", stone.ID)
	}
	if got, ok := c.Blocks.Get(stone.ID | 5); !ok || got.ShortName != "default:stone" {
		t.Fatalf("variant lookup failed: %+v", got)
	}
	pick, ok := c.Items.Get("default:pickaxe")
	if !ok || pick.Quantity.Kind != protocol.QuantityWear || len(pick.InteractionRules) != 3 {
		t.Fatalf("unexpected pickaxe %+v", pick)
	}
	if c.Blocks.Digest == "" || c.Items.Digest == "" {
		t.Fatalf("missing digests")
	}
	if len(c.Media.Entries) < 2 {
		t.Fatalf("expected media entries, got %+v", c.Media.Entries)
	}
	b, err := c.Media.Read("textures/dirt.png")
	if err != nil || len(b) == 0 {
		t.Fatalf("read media: %v", err)
	}
	if _, err := c.Media.Read("../blocks.json"); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("expected ErrNoMedia, got %v", err)
	}
}

func TestAirInsertedAndIDsStable(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "blocks.json", `[{"short_name":"b:z"},{"short_name":"b:a"}]`)
	write(t, dir, "items.json", `[]`)
	c, err := Load(dir, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Blocks.Defs) != 3 {
		t.Fatalf("defs=%d", len(c.Blocks.Defs))
	}
	a, _ := c.Blocks.Lookup("b:a")
	z, _ := c.Blocks.Lookup("b:z")
	if a.ID != 1<<protocol.BlockVariantBits || z.ID != 2<<protocol.BlockVariantBits {
		t.Fatalf("a=%d z=%d", a.ID, z.ID)
	}
	if len(c.Media.Entries) != 0 {
		t.Fatalf("expected empty manifest")
	}
}

func TestUnknownReferencesRejected(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "blocks.json", `[{"short_name":"b:a","drop_item":"i:missing"}]`)
	write(t, dir, "items.json", `[]`)
	if _, err := Load(dir, ""); err == nil {
		t.Fatalf("expected unknown drop item error")
	}
	write(t, dir, "blocks.json", `[{"short_name":"b:a"},{"short_name":"b:a"}]`)
	if _, err := Load(dir, ""); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
