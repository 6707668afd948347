package protocol

// Well-known block groups shared by all content packs.
const (
	GroupSolid        = "default:solid"
	GroupLiquid       = "default:liquid"
	GroupToolRequired = "default:tool_required"
	GroupNotDiggable  = "default:not_diggable"
)

const (
	AirBlockName           = "builtin:air"
	FallbackUnknownTexture = "builtin:unknown"
)

// Block ids reserve the low 12 bits for per-block variant data.
const (
	BlockVariantBits = 12
	BlockVariantMask = 1<<BlockVariantBits - 1
)

// BlockBase strips the variant bits from a block id.
func BlockBase(id uint32) uint32 { return id &^ BlockVariantMask }

// BlockVariant returns the variant bits of a block id.
func BlockVariant(id uint32) uint32 { return id & BlockVariantMask }

type DigKind uint8

const (
	DigUnset          DigKind = iota // block cannot be selected
	DigUndiggable                    // selectable, never breaks
	DigInstant                       // breaks immediately, repeats while held
	DigInstantOneshot                // breaks immediately, once per click
	DigConstantTime                  // Value seconds
	DigScaledTime                    // Value multiplier of the block's base dig time
)

type DigBehavior struct {
	Kind  DigKind `msgpack:"k" json:"kind"`
	Value float64 `msgpack:"v,omitempty" json:"value,omitempty"`
}

type InteractionRule struct {
	BlockGroups []string    `msgpack:"groups" json:"block_groups"`
	Dig         DigBehavior `msgpack:"dig" json:"dig"`
}

// Matches reports whether every group of the rule is present on the block.
func (r InteractionRule) Matches(blockGroups []string) bool {
	for _, g := range r.BlockGroups {
		found := false
		for _, bg := range blockGroups {
			if bg == g {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DefaultInteractionRules apply to plain items and an empty hand.
func DefaultInteractionRules() []InteractionRule {
	return []InteractionRule{
		{BlockGroups: []string{GroupNotDiggable}, Dig: DigBehavior{Kind: DigUnset}},
		{BlockGroups: []string{GroupToolRequired}, Dig: DigBehavior{Kind: DigUnset}},
		{BlockGroups: []string{GroupSolid}, Dig: DigBehavior{Kind: DigConstantTime, Value: 1.0}},
	}
}

type QuantityKind uint8

const (
	QuantityNone QuantityKind = iota
	QuantityStack
	QuantityWear
)

type Quantity struct {
	Kind  QuantityKind `msgpack:"k" json:"kind"`
	Value uint32       `msgpack:"v,omitempty" json:"value,omitempty"` // max stack or max wear
}

type ItemDef struct {
	ShortName        string            `msgpack:"short_name" json:"short_name"`
	DisplayName      string            `msgpack:"display_name" json:"display_name"`
	InventoryTexture string            `msgpack:"texture" json:"inventory_texture"`
	Groups           []string          `msgpack:"groups" json:"groups,omitempty"`
	Quantity         Quantity          `msgpack:"quantity" json:"quantity"`
	InteractionRules []InteractionRule `msgpack:"rules" json:"interaction_rules,omitempty"`

	// Block placed when the item is used with PlaceAction; empty if not placeable.
	PlaceBlock string `msgpack:"place_block,omitempty" json:"place_block,omitempty"`
}

// MatchRule returns the first rule matching the block's groups.
func (d ItemDef) MatchRule(blockGroups []string) (InteractionRule, bool) {
	rules := d.InteractionRules
	if len(rules) == 0 {
		rules = DefaultInteractionRules()
	}
	for _, r := range rules {
		if r.Matches(blockGroups) {
			return r, true
		}
	}
	return InteractionRule{}, false
}

type RenderKind uint8

const (
	RenderEmpty RenderKind = iota
	RenderCube
	RenderExtended
)

type CubeRenderMode uint8

const (
	CubeOpaque CubeRenderMode = iota
	CubeTransparent
	CubeTranslucent
)

type CubeTextures struct {
	Left   string `msgpack:"l" json:"left"`
	Right  string `msgpack:"r" json:"right"`
	Top    string `msgpack:"t" json:"top"`
	Bottom string `msgpack:"b" json:"bottom"`
	Front  string `msgpack:"f" json:"front"`
	Back   string `msgpack:"k" json:"back"`
}

type RenderInfo struct {
	Kind     RenderKind     `msgpack:"k" json:"kind"`
	Textures CubeTextures   `msgpack:"tex,omitempty" json:"textures,omitempty"`
	Mode     CubeRenderMode `msgpack:"mode,omitempty" json:"mode,omitempty"`
	Extended []byte         `msgpack:"ext,omitempty" json:"extended,omitempty"`
}

type PhysicsKind uint8

const (
	PhysicsAir PhysicsKind = iota
	PhysicsSolid
	PhysicsFluid
)

type FluidParams struct {
	HorizontalSpeed  float64 `msgpack:"hs" json:"horizontal_speed"`
	VerticalSpeed    float64 `msgpack:"vs" json:"vertical_speed"`
	SurfaceThickness float64 `msgpack:"st" json:"surface_thickness"`
}

type PhysicsInfo struct {
	Kind  PhysicsKind `msgpack:"k" json:"kind"`
	Fluid FluidParams `msgpack:"fluid,omitempty" json:"fluid,omitempty"`
}

type BlockTypeDef struct {
	ID          uint32      `msgpack:"id" json:"id"`
	ShortName   string      `msgpack:"short_name" json:"short_name"`
	BaseDigTime float64     `msgpack:"dig_time" json:"base_dig_time"`
	Groups      []string    `msgpack:"groups" json:"groups,omitempty"`
	Render      RenderInfo  `msgpack:"render" json:"render"`
	Physics     PhysicsInfo `msgpack:"physics" json:"physics"`

	// Item granted when the block is dug; empty grants nothing.
	DropItem string `msgpack:"drop,omitempty" json:"drop_item,omitempty"`
}

// DigSeconds is how long the rule takes to dig the block; ok=false when it
// cannot be dug at all.
func (r InteractionRule) DigSeconds(b BlockTypeDef) (secs float64, ok bool) {
	switch r.Dig.Kind {
	case DigInstant, DigInstantOneshot:
		return 0, true
	case DigConstantTime:
		return r.Dig.Value, true
	case DigScaledTime:
		return r.Dig.Value * b.BaseDigTime, true
	}
	return 0, false
}

type ItemStack struct {
	ItemName  string `msgpack:"item" json:"item_name"`
	Quantity  uint32 `msgpack:"qty" json:"quantity"`
	MaxStack  uint32 `msgpack:"max" json:"max_stack"`
	Stackable bool   `msgpack:"stackable" json:"stackable"`
}

// IsEmpty requires both an empty name and zero quantity.
func (s ItemStack) IsEmpty() bool {
	return s.ItemName == "" && s.Quantity == 0
}

type Inventory struct {
	Height   uint32      `msgpack:"h" json:"height"`
	Width    uint32      `msgpack:"w" json:"width"`
	Contents []ItemStack `msgpack:"contents" json:"contents"`
}

// Valid checks the contents cardinality invariant.
func (inv Inventory) Valid() bool {
	return uint64(len(inv.Contents)) == uint64(inv.Height)*uint64(inv.Width)
}

type MediaEntry struct {
	Name   string `msgpack:"name" json:"name"`
	SHA256 string `msgpack:"sha256" json:"sha256"`
	Size   int64  `msgpack:"size" json:"size"`
}
