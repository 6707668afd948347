package protocol

import "testing"

func TestZeroQuantityWithNameIsNotEmpty(t *testing.T) {
	s := ItemStack{ItemName: "default:torch", Quantity: 0}
	if s.IsEmpty() {
		t.Fatalf("named stack with zero quantity must not be empty")
	}
	if !(ItemStack{}).IsEmpty() {
		t.Fatalf("zero stack must be empty")
	}
	if (ItemStack{Quantity: 1}).IsEmpty() {
		t.Fatalf("unnamed stack with quantity must not be empty")
	}
}

func TestMatchRuleFirstWins(t *testing.T) {
	pick := ItemDef{
		ShortName: "default:pick",
		InteractionRules: []InteractionRule{
			{BlockGroups: []string{GroupSolid, "default:stone"}, Dig: DigBehavior{Kind: DigScaledTime, Value: 0.5}},
			{BlockGroups: []string{GroupSolid}, Dig: DigBehavior{Kind: DigConstantTime, Value: 3}},
		},
	}
	stone := BlockTypeDef{ShortName: "default:stone", BaseDigTime: 4, Groups: []string{"default:stone", GroupSolid}}
	r, ok := pick.MatchRule(stone.Groups)
	if !ok {
		t.Fatalf("expected match")
	}
	if secs, ok := r.DigSeconds(stone); !ok || secs != 2 {
		t.Fatalf("dig seconds=%v ok=%v", secs, ok)
	}
	dirt := BlockTypeDef{ShortName: "default:dirt", Groups: []string{GroupSolid}}
	r, _ = pick.MatchRule(dirt.Groups)
	if secs, _ := r.DigSeconds(dirt); secs != 3 {
		t.Fatalf("expected constant rule, got %v", secs)
	}
	if _, ok := pick.MatchRule([]string{GroupLiquid}); ok {
		t.Fatalf("liquid should not match")
	}
}

func TestDefaultRules(t *testing.T) {
	var hand ItemDef
	r, ok := hand.MatchRule([]string{GroupSolid, GroupToolRequired})
	if !ok || r.Dig.Kind != DigUnset {
		t.Fatalf("tool-required block must be unselectable by hand, got %+v", r)
	}
	r, ok = hand.MatchRule([]string{GroupSolid})
	if !ok || r.Dig.Kind != DigConstantTime || r.Dig.Value != 1 {
		t.Fatalf("unexpected default solid rule: %+v", r)
	}
	if _, ok := r.DigSeconds(BlockTypeDef{}); !ok {
		t.Fatalf("constant rule must be diggable")
	}
	if _, ok := (InteractionRule{Dig: DigBehavior{Kind: DigUndiggable}}).DigSeconds(BlockTypeDef{}); ok {
		t.Fatalf("undiggable must not dig")
	}
}

func TestBlockVariantBits(t *testing.T) {
	id := uint32(5<<BlockVariantBits | 3)
	if BlockBase(id) != 5<<BlockVariantBits || BlockVariant(id) != 3 {
		t.Fatalf("base=%d variant=%d", BlockBase(id), BlockVariant(id))
	}
}

func TestNegativeBlockCoordChunk(t *testing.T) {
	b := BlockCoord{X: -1, Y: 16, Z: -17}
	if got := b.Chunk(); got != (ChunkCoord{X: -1, Y: 1, Z: -2}) {
		t.Fatalf("chunk=%v", got)
	}
	off := b.Offset()
	if got := b.Chunk().Block(off); got != b {
		t.Fatalf("offset round trip: %v", got)
	}
	if (Vec3{X: -0.5, Y: 1.5, Z: 0}).BlockCoord() != (BlockCoord{X: -1, Y: 1, Z: 0}) {
		t.Fatalf("vec floor")
	}
}
