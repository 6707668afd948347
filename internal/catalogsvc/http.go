package catalogsvc

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"voxelwire.io/internal/sim/catalogs"
)

// Routes registers the HTTP JSON rendition of the catalog RPCs:
//
//	GET /v1/catalog/blocks
//	GET /v1/catalog/items
//	GET /v1/catalog/media
//	GET /v1/media/{name...}
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/catalog/blocks", func(rw http.ResponseWriter, r *http.Request) {
		var rep BlockDefsReply
		_ = s.GetBlockDefs(&Empty{}, &rep)
		writeJSON(rw, r, rep.Digest, rep)
	})
	mux.HandleFunc("GET /v1/catalog/items", func(rw http.ResponseWriter, r *http.Request) {
		var rep ItemDefsReply
		_ = s.GetItemDefs(&Empty{}, &rep)
		writeJSON(rw, r, rep.Digest, rep)
	})
	mux.HandleFunc("GET /v1/catalog/media", func(rw http.ResponseWriter, r *http.Request) {
		var rep MediaListReply
		_ = s.ListMedia(&Empty{}, &rep)
		writeJSON(rw, r, "", rep)
	})
	mux.HandleFunc("GET /v1/media/{name...}", func(rw http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		b, err := s.cat.Media.Read(name)
		if err != nil {
			if errors.Is(err, catalogs.ErrNoMedia) {
				http.Error(rw, "not found", http.StatusNotFound)
				return
			}
			http.Error(rw, "read failed", http.StatusInternalServerError)
			return
		}
		ct := mime.TypeByExtension(path.Ext(name))
		if ct == "" {
			ct = "application/octet-stream"
		}
		rw.Header().Set("Content-Type", ct)
		rw.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = rw.Write(b)
	})
}

func writeJSON(rw http.ResponseWriter, r *http.Request, digest string, v any) {
	if digest != "" {
		etag := `"` + digest + `"`
		rw.Header().Set("ETag", etag)
		if strings.Contains(r.Header.Get("If-None-Match"), etag) {
			rw.WriteHeader(http.StatusNotModified)
			return
		}
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}
