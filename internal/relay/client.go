package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ciphermesh/internal/domain"
)

// Client talks to a relay Server on behalf of one local peer.
type Client struct {
	Base string
	Self domain.PeerID
	HTTP *http.Client
}

// NewClient returns a Client for self against the relay at base.
func NewClient(base string, self domain.PeerID) *Client {
	return &Client{Base: strings.TrimRight(base, "/"), Self: self, HTTP: http.DefaultClient}
}

// PublishBundle registers the signed bundle and a batch of one-time keys.
func (c *Client) PublishBundle(ctx context.Context, up domain.BundleUpload) error {
	return c.post(ctx, "/v1/bundles", up, nil)
}

// FetchBundle fetches a bundle for peer, carrying at most one one-time key.
func (c *Client) FetchBundle(ctx context.Context, peer domain.PeerID) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.getJSON(ctx, "/v1/bundles/"+url.PathEscape(peer.String()), &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

// Deliver queues data in the mailbox of to.
func (c *Client) Deliver(ctx context.Context, to domain.PeerID, data []byte) error {
	return c.post(ctx, "/v1/messages/"+url.PathEscape(to.String()), SendRequest{From: c.Self, Data: data}, nil)
}

// FetchMessages returns up to limit queued envelopes for Self, oldest first.
func (c *Client) FetchMessages(ctx context.Context, limit int) ([]domain.Inbound, error) {
	path := "/v1/messages/" + url.PathEscape(c.Self.String())
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []domain.Inbound
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AckMessages drops the first count envelopes from Self's mailbox.
func (c *Client) AckMessages(ctx context.Context, count int) error {
	return c.post(ctx, "/v1/messages/"+url.PathEscape(c.Self.String())+"/ack", AckRequest{Count: count}, nil)
}

func (c *Client) post(ctx context.Context, path string, in any, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay post %s: %s", path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("relay get %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var (
	_ domain.PeerDirectory = (*Client)(nil)
	_ domain.Transport     = (*Client)(nil)
)
