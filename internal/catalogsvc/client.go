package catalogsvc

import (
	"io"
	"net/rpc"
	"net/rpc/jsonrpc"

	"voxelwire.io/internal/protocol"
)

// Client is a typed wrapper around a JSON-RPC connection to Service.
type Client struct {
	*rpc.Client
}

func NewClient(conn io.ReadWriteCloser) *Client {
	return &Client{Client: rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))}
}

func (c *Client) GetBlockDefs() (BlockDefsReply, error) {
	var rep BlockDefsReply
	err := c.Call(ServiceName+".GetBlockDefs", &Empty{}, &rep)
	return rep, err
}

func (c *Client) GetItemDefs() (ItemDefsReply, error) {
	var rep ItemDefsReply
	err := c.Call(ServiceName+".GetItemDefs", &Empty{}, &rep)
	return rep, err
}

func (c *Client) ListMedia() ([]protocol.MediaEntry, error) {
	var rep MediaListReply
	err := c.Call(ServiceName+".ListMedia", &Empty{}, &rep)
	return rep.Media, err
}

func (c *Client) GetMedia(name string) ([]byte, error) {
	var rep MediaReply
	err := c.Call(ServiceName+".GetMedia", &MediaRequest{Name: name}, &rep)
	return rep.Data, err
}
