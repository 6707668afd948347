// Package catalogsvc serves the static catalogs a client fetches before (or
// alongside) its session: block and item definitions and media files.
package catalogsvc

import (
	"errors"
	"fmt"
	"net/rpc"

	"voxelwire.io/internal/protocol"
	"voxelwire.io/internal/sim/catalogs"
)

// ServiceName is the net/rpc name the service is registered under.
const ServiceName = "Catalog"

type Empty struct{}

type BlockDefsReply struct {
	Digest string                  `json:"digest"`
	Blocks []protocol.BlockTypeDef `json:"blocks"`
}

type ItemDefsReply struct {
	Digest string             `json:"digest"`
	Items  []protocol.ItemDef `json:"items"`
}

type MediaListReply struct {
	Media []protocol.MediaEntry `json:"media"`
}

type MediaRequest struct {
	Name string `json:"name"`
}

type MediaReply struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Service exposes one immutable catalog snapshot. Methods follow net/rpc
// conventions and are stateless.
type Service struct {
	cat *catalogs.Catalogs
}

func New(cat *catalogs.Catalogs) *Service {
	return &Service{cat: cat}
}

// Register adds the service to an RPC server.
func (s *Service) Register(srv *rpc.Server) error {
	return srv.RegisterName(ServiceName, s)
}

func (s *Service) GetBlockDefs(_ *Empty, rep *BlockDefsReply) error {
	rep.Digest = s.cat.Blocks.Digest
	rep.Blocks = s.cat.Blocks.Defs
	return nil
}

func (s *Service) GetItemDefs(_ *Empty, rep *ItemDefsReply) error {
	rep.Digest = s.cat.Items.Digest
	rep.Items = s.cat.Items.Defs
	return nil
}

func (s *Service) ListMedia(_ *Empty, rep *MediaListReply) error {
	rep.Media = s.cat.Media.Entries
	return nil
}

func (s *Service) GetMedia(req *MediaRequest, rep *MediaReply) error {
	b, err := s.cat.Media.Read(req.Name)
	if err != nil {
		if errors.Is(err, catalogs.ErrNoMedia) {
			return fmt.Errorf("%s: %q", protocol.ErrNotFound, req.Name)
		}
		return err
	}
	rep.Name = req.Name
	rep.Data = b
	return nil
}
