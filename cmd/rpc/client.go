package rpc

import (
	"bytes"
	"io"
	"net/http"

	"github.com/canopy-network/dbft/bft"
	"github.com/canopy-network/dbft/lib"
	"github.com/canopy-network/dbft/p2p"
)

// Client calls the status rpc of a running node
type Client struct {
	rpcURL  string
	rpcPort string
	client  http.Client
}

// NewClient() targets a local node when the port is set, otherwise rpcURL is the full remote address
func NewClient(rpcURL, rpcPort string) *Client {
	return &Client{rpcURL: rpcURL, rpcPort: rpcPort, client: http.Client{}}
}

func (c *Client) Version() (version *string, err lib.ErrorI) {
	version = new(string)
	err = c.get(VersionRouteName, version)
	return
}

func (c *Client) Members() (p []MemberStatus, err lib.ErrorI) {
	err = c.get(MembersRouteName, &p)
	return
}

func (c *Client) Height(member int) (height uint32, err lib.ErrorI) {
	p := new(heightResponse)
	err = c.memberRequest(HeightRouteName, member, p)
	return p.Height, err
}

func (c *Client) Round(member int) (p *bft.RoundSnapshot, err lib.ErrorI) {
	p = new(bft.RoundSnapshot)
	err = c.memberRequest(RoundRouteName, member, p)
	return
}

func (c *Client) Statistics(member int) (p *bft.StatisticsSnapshot, err lib.ErrorI) {
	p = new(bft.StatisticsSnapshot)
	err = c.memberRequest(StatisticsRouteName, member, p)
	return
}

func (c *Client) ValidatorSet() (p *lib.ValidatorSet, err lib.ErrorI) {
	p = new(lib.ValidatorSet)
	err = c.get(ValidatorSetRouteName, p)
	return
}

func (c *Client) BlockByHeight(member int, height uint32) (p *lib.Block, err lib.ErrorI) {
	p = new(lib.Block)
	err = c.postJSON(BlockByHeightRouteName, heightRequest{memberRequest: memberRequest{Member: member}, Height: height}, p)
	return
}

func (c *Client) BlockByHash(member int, hash string) (p *lib.Block, err lib.ErrorI) {
	h, err := lib.NewHexBytesFromString(hash)
	if err != nil {
		return nil, err
	}
	p = new(lib.Block)
	err = c.postJSON(BlockByHashRouteName, hashRequest{memberRequest: memberRequest{Member: member}, Hash: h}, p)
	return
}

func (c *Client) Pending(member int) (p *pendingResponse, err lib.ErrorI) {
	p = new(pendingResponse)
	err = c.memberRequest(PendingRouteName, member, p)
	return
}

func (c *Client) Transaction(tx []byte, fee uint64) (hash lib.HexBytes, err lib.ErrorI) {
	p := new(txResponse)
	err = c.postJSON(TxRouteName, txRequest{Tx: tx, Fee: fee}, p)
	return p.Hash, err
}

func (c *Client) PeerInfo() (p []p2p.PeerInfo, err lib.ErrorI) {
	err = c.get(PeerInfoRouteName, &p)
	return
}

func (c *Client) Config() (p *lib.Config, err lib.ErrorI) {
	p = new(lib.Config)
	err = c.get(ConfigRouteName, p)
	return
}

func (c *Client) memberRequest(routeName string, member int, ptr any) lib.ErrorI {
	return c.postJSON(routeName, memberRequest{Member: member}, ptr)
}

func (c *Client) postJSON(routeName string, request, ptr any) lib.ErrorI {
	bz, err := lib.MarshalJSON(request)
	if err != nil {
		return err
	}
	return c.post(routeName, bz, ptr)
}

func (c *Client) url(routeName string) string {
	// if the rpc port is defined then it's a local RPC deployment
	if c.rpcPort != "" {
		return c.rpcURL + colon + c.rpcPort + routePaths[routeName].Path
	}
	// otherwise it's considered a remote RPC deployment
	return c.rpcURL + routePaths[routeName].Path
}

func (c *Client) post(routeName string, json []byte, ptr any) lib.ErrorI {
	resp, err := c.client.Post(c.url(routeName), ApplicationJSON, bytes.NewBuffer(json))
	if err != nil {
		return ErrPostRequest(err)
	}
	return c.unmarshal(resp, ptr)
}

func (c *Client) get(routeName string, ptr any) lib.ErrorI {
	resp, err := c.client.Get(c.url(routeName))
	if err != nil {
		return ErrGetRequest(err)
	}
	return c.unmarshal(resp, ptr)
}

func (c *Client) unmarshal(resp *http.Response, ptr any) lib.ErrorI {
	defer func() { _ = resp.Body.Close() }()
	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrReadBody(err)
	}
	if resp.StatusCode != http.StatusOK {
		return ErrHttpStatus(resp.Status, resp.StatusCode, bz)
	}
	return lib.UnmarshalJSON(bz, ptr)
}
