package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/remeh/sizedwaitgroup"

	"voxelwire.io/internal/protocol"
)

// Catalogs is an immutable snapshot. Sessions keep the pointer they were
// given at connect time; a reload publishes a new snapshot.
type Catalogs struct {
	Blocks BlockCatalog
	Items  ItemCatalog
	Media  MediaCatalog
}

type BlockCatalog struct {
	Defs   []protocol.BlockTypeDef // ordered by id; Defs[0] is air
	byName map[string]int
	Digest string
}

// Get resolves a block id, ignoring variant bits.
func (c *BlockCatalog) Get(id uint32) (protocol.BlockTypeDef, bool) {
	i := int(protocol.BlockBase(id) >> protocol.BlockVariantBits)
	if i < 0 || i >= len(c.Defs) {
		return protocol.BlockTypeDef{}, false
	}
	return c.Defs[i], true
}

func (c *BlockCatalog) Lookup(name string) (protocol.BlockTypeDef, bool) {
	i, ok := c.byName[name]
	if !ok {
		return protocol.BlockTypeDef{}, false
	}
	return c.Defs[i], true
}

type ItemCatalog struct {
	Defs   []protocol.ItemDef // ordered by short name
	byName map[string]int
	Digest string
}

func (c *ItemCatalog) Get(name string) (protocol.ItemDef, bool) {
	i, ok := c.byName[name]
	if !ok {
		return protocol.ItemDef{}, false
	}
	return c.Defs[i], true
}

type MediaCatalog struct {
	dir        string
	Entries    []protocol.MediaEntry // ordered by name
	byName     map[string]protocol.MediaEntry
	TotalBytes int64
}

var ErrNoMedia = errors.New("media not found")

// Read returns the bytes of a manifest entry.
func (c *MediaCatalog) Read(name string) ([]byte, error) {
	e, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoMedia, name)
	}
	b, err := os.ReadFile(filepath.Join(c.dir, filepath.FromSlash(e.Name)))
	if err != nil {
		return nil, fmt.Errorf("media %q: %w", name, err)
	}
	return b, nil
}

// Load reads blocks.json and items.json from configDir and hashes every
// file under mediaDir. An empty mediaDir yields an empty manifest.
func Load(configDir, mediaDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	if err := crossCheck(&c); err != nil {
		return nil, err
	}
	if err := loadMedia(mediaDir, &c.Media); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []protocol.BlockTypeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	byName := map[string]protocol.BlockTypeDef{}
	for _, d := range defs {
		if d.ShortName == "" {
			return fmt.Errorf("blocks.json: empty short_name")
		}
		if _, dup := byName[d.ShortName]; dup {
			return fmt.Errorf("blocks.json: duplicate %q", d.ShortName)
		}
		byName[d.ShortName] = d
	}
	if _, ok := byName[protocol.AirBlockName]; !ok {
		byName[protocol.AirBlockName] = protocol.BlockTypeDef{
			ShortName: protocol.AirBlockName,
			Render:    protocol.RenderInfo{Kind: protocol.RenderEmpty},
			Physics:   protocol.PhysicsInfo{Kind: protocol.PhysicsAir},
		}
	}

	names := make([]string, 0, len(byName))
	for n := range byName {
		if n != protocol.AirBlockName {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	names = append([]string{protocol.AirBlockName}, names...)
	if len(names) > 1<<(32-protocol.BlockVariantBits) {
		return fmt.Errorf("blocks.json: too many blocks (%d)", len(names))
	}

	out.Defs = make([]protocol.BlockTypeDef, len(names))
	out.byName = make(map[string]int, len(names))
	for i, n := range names {
		d := byName[n]
		d.ID = uint32(i) << protocol.BlockVariantBits
		out.Defs[i] = d
		out.byName[n] = i
	}
	canon, _ := json.Marshal(out.Defs)
	out.Digest = sha256Hex(canon)
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []protocol.ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ShortName < defs[j].ShortName })
	out.byName = make(map[string]int, len(defs))
	for i, d := range defs {
		if d.ShortName == "" {
			return fmt.Errorf("items.json: empty short_name")
		}
		if _, dup := out.byName[d.ShortName]; dup {
			return fmt.Errorf("items.json: duplicate %q", d.ShortName)
		}
		if d.Quantity.Kind == protocol.QuantityStack && d.Quantity.Value == 0 {
			return fmt.Errorf("items.json: %q: stack quantity needs a max", d.ShortName)
		}
		if d.InventoryTexture == "" {
			defs[i].InventoryTexture = protocol.FallbackUnknownTexture
		}
		out.byName[d.ShortName] = i
	}
	out.Defs = defs
	canon, _ := json.Marshal(out.Defs)
	out.Digest = sha256Hex(canon)
	return nil
}

func crossCheck(c *Catalogs) error {
	for _, d := range c.Items.Defs {
		if d.PlaceBlock == "" {
			continue
		}
		if _, ok := c.Blocks.Lookup(d.PlaceBlock); !ok {
			return fmt.Errorf("item %q places unknown block %q", d.ShortName, d.PlaceBlock)
		}
	}
	for _, d := range c.Blocks.Defs {
		if d.DropItem == "" {
			continue
		}
		if _, ok := c.Items.Get(d.DropItem); !ok {
			return fmt.Errorf("block %q drops unknown item %q", d.ShortName, d.DropItem)
		}
	}
	return nil
}

func loadMedia(dir string, out *MediaCatalog) error {
	out.dir = dir
	out.byName = map[string]protocol.MediaEntry{}
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("media dir: %w", err)
	}

	entries := make([]protocol.MediaEntry, len(paths))
	errs := make([]error, len(paths))
	wg := sizedwaitgroup.New(runtime.NumCPU())
	for i, p := range paths {
		wg.Add()
		go func(i int, p string) {
			defer wg.Done()
			entries[i], errs[i] = hashFile(dir, p)
		}(i, p)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("media dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	out.Entries = entries
	for _, e := range entries {
		out.byName[e.Name] = e
		out.TotalBytes += e.Size
	}
	return nil
}

func hashFile(root, path string) (protocol.MediaEntry, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return protocol.MediaEntry{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return protocol.MediaEntry{}, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return protocol.MediaEntry{}, fmt.Errorf("%s: %w", rel, err)
	}
	return protocol.MediaEntry{
		Name:   filepath.ToSlash(rel),
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   n,
	}, nil
}
