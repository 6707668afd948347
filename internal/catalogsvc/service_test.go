package catalogsvc

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/rpc"
	"net/rpc/jsonrpc"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"voxelwire.io/internal/sim/catalogs"
)

func loadRepoCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	_, file, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(file), "..", "..", "configs")
	cat, err := catalogs.Load(dir, filepath.Join(dir, "media"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	return cat
}

func TestRPCOverPipe(t *testing.T) {
	cat := loadRepoCatalogs(t)
	srv := rpc.NewServer()
	if err := New(cat).Register(srv); err != nil {
		t.Fatalf("register: %v", err)
	}
	a, b := net.Pipe()
	go srv.ServeCodec(jsonrpc.NewServerCodec(a))
	c := NewClient(b)
	defer c.Close()

	blocks, err := c.GetBlockDefs()
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks.Blocks) != len(cat.Blocks.Defs) || blocks.Digest != cat.Blocks.Digest {
		t.Fatalf("blocks mismatch: %d defs digest %s", len(blocks.Blocks), blocks.Digest)
	}
	items, err := c.GetItemDefs()
	if err != nil || len(items.Items) != len(cat.Items.Defs) {
		t.Fatalf("items: %v (%d)", err, len(items.Items))
	}
	media, err := c.ListMedia()
	if err != nil || len(media) == 0 {
		t.Fatalf("media list: %v (%d)", err, len(media))
	}
	data, err := c.GetMedia(media[0].Name)
	if err != nil || int64(len(data)) != media[0].Size {
		t.Fatalf("media %s: %v (%d bytes)", media[0].Name, err, len(data))
	}
	if _, err := c.GetMedia("missing.png"); err == nil || !strings.Contains(err.Error(), "E_NOT_FOUND") {
		t.Fatalf("missing media err=%v", err)
	}
}

func TestHTTPRoutes(t *testing.T) {
	cat := loadRepoCatalogs(t)
	mux := http.NewServeMux()
	New(cat).Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/v1/catalog/items", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("items status=%d", rec.Code)
	}
	var rep ItemDefsReply
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rep.Items) != len(cat.Items.Defs) {
		t.Fatalf("items=%d", len(rep.Items))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/catalog/blocks", nil)
	req.Header.Set("If-None-Match", `"`+cat.Blocks.Digest+`"`)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("conditional blocks status=%d", rec.Code)
	}

	name := cat.Media.Entries[0].Name
	req = httptest.NewRequest(http.MethodGet, "/v1/media/"+name, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || int64(rec.Body.Len()) != cat.Media.Entries[0].Size {
		t.Fatalf("media status=%d len=%d", rec.Code, rec.Body.Len())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/media/nope.png", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing media status=%d", rec.Code)
	}
}
