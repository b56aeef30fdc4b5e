package turn

import (
	"context"
	"sync"

	"github.com/pion/logging"
	"github.com/pkg/errors"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
	"github.com/AltFreq07/libjuice/internal/stunmsg"
)

// Client is a TURN client bound to a single server and a single long-term
// credential. It owns no socket; RoundTrip is supplied by the caller
// (normally pkg/juice, backed by internal/transport) so the
// transaction logic here is testable without a network.
type Client struct {
	transport RoundTripper
	prim      cryptoprim.Primitives
	log       logging.LeveledLogger

	username string
	password string

	mu    sync.Mutex
	realm string
	nonce string

	alloc *Allocation
}

// NewClient creates a TURN client that will authenticate with username and
// password once the server challenges it with a 401 carrying REALM/NONCE.
func NewClient(transport RoundTripper, username, password string, prim cryptoprim.Primitives, loggerFactory logging.LoggerFactory) *Client {
	return &Client{
		transport: transport,
		prim:      prim,
		log:       loggerFactory.NewLogger("turn"),
		username:  username,
		password:  password,
	}
}

// longTermKey returns the MESSAGE-INTEGRITY key under the client's current
// realm, or nil if the server has not yet challenged this client.
func (c *Client) longTermKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.realm == "" {
		return nil
	}
	return stunmsg.LongTermKey(c.username, c.realm, c.password)
}

func (c *Client) credentials() (realm, nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.realm, c.nonce
}

func (c *Client) setCredentials(realm, nonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realm = realm
	c.nonce = nonce
}

// newTxID draws a fresh transaction id for the next request.
func (c *Client) newTxID() ([stunmsg.TransactionIDSize]byte, error) {
	return stunmsg.NewTransactionID(c.prim.Random)
}

// attrBuilder produces the request's attributes given the transaction id
// that will carry them. Attributes derived from XOR-MAPPED-ADDRESS-style
// encoding (XOR-PEER-ADDRESS, XOR-RELAYED-ADDRESS) must be computed against
// that exact id, so callers that need one cannot precompute attrs before
// the transaction id exists.
type attrBuilder func(txID [stunmsg.TransactionIDSize]byte) []stunmsg.Attr

func staticAttrs(attrs []stunmsg.Attr) attrBuilder {
	return func([stunmsg.TransactionIDSize]byte) []stunmsg.Attr { return attrs }
}

// buildRequest constructs a request message, attaching USERNAME/REALM/NONCE
// and MESSAGE-INTEGRITY when the client already holds credentials for this
// server (spec.md §4.2: every TURN request after the first 401 carries
// long-term credentials).
func (c *Client) buildRequest(method stunmsg.Method, build attrBuilder) (*stunmsg.Message, error) {
	txID, err := c.newTxID()
	if err != nil {
		return nil, errors.Wrap(err, "turn: generate transaction id")
	}
	m := stunmsg.New(stunmsg.ClassRequest, method, txID)
	for _, a := range build(txID) {
		m.Add(a.Type, a.Value)
	}

	realm, nonce := c.credentials()
	if realm != "" {
		m.Add(stunmsg.AttrUsername, []byte(c.username))
		m.Add(stunmsg.AttrRealm, []byte(realm))
		m.Add(stunmsg.AttrNonce, []byte(nonce))
	}
	return m, nil
}

// do runs one request/response transaction, transparently retrying exactly
// once if the server challenges with 401 Unauthorized or 438 Stale Nonce
// (spec.md §4.2), updating the client's stored REALM/NONCE from the
// challenge before retrying.
func (c *Client) do(ctx context.Context, method stunmsg.Method, attrs []stunmsg.Attr) (*stunmsg.Message, error) {
	return c.doBuilt(ctx, method, staticAttrs(attrs))
}

// doBuilt is do's general form, for requests whose attributes must be
// computed against the actual per-attempt transaction id.
func (c *Client) doBuilt(ctx context.Context, method stunmsg.Method, build attrBuilder) (*stunmsg.Message, error) {
	req, err := c.buildRequest(method, build)
	if err != nil {
		return nil, err
	}

	resp, err := c.exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Class != stunmsg.ClassErrorResponse {
		return resp, nil
	}

	code, reason, challenged := c.challengeFrom(resp)
	if !challenged {
		if code == 401 || code == 438 {
			return nil, errors.Wrap(ErrAuthFailed, "turn: challenge carried no REALM/NONCE")
		}
		return nil, errors.Wrap(&serverError{code: code, reason: reason}, "turn: request rejected")
	}

	retryReq, err := c.buildRequest(method, build)
	if err != nil {
		return nil, err
	}
	resp2, err := c.exchange(ctx, retryReq)
	if err != nil {
		return nil, err
	}
	if resp2.Class == stunmsg.ClassErrorResponse {
		return nil, errors.Wrap(ErrAuthFailed, "turn: retried request still rejected")
	}
	return resp2, nil
}

// challengeFrom inspects an error response for 401/438 and, when present,
// stores the fresh REALM/NONCE for the next attempt.
func (c *Client) challengeFrom(resp *stunmsg.Message) (code int, reason string, retry bool) {
	ec, ok := resp.Get(stunmsg.AttrErrorCode)
	if !ok {
		return 0, "unknown error", false
	}
	code, reason, err := stunmsg.DecodeErrorCode(ec.Value)
	if err != nil {
		return 0, "malformed error-code", false
	}
	if code != 401 && code != 438 {
		return code, reason, false
	}

	realmAttr, hasRealm := resp.Get(stunmsg.AttrRealm)
	nonceAttr, hasNonce := resp.Get(stunmsg.AttrNonce)
	if !hasRealm || !hasNonce {
		return code, reason, false
	}
	c.setCredentials(string(realmAttr.Value), string(nonceAttr.Value))
	return code, reason, true
}

// exchange encodes req (attaching MESSAGE-INTEGRITY if credentials are
// known), sends it via the transport and verifies the response's
// MESSAGE-INTEGRITY when the client holds a key to check it against.
func (c *Client) exchange(ctx context.Context, req *stunmsg.Message) (*stunmsg.Message, error) {
	resp, err := c.transport.RoundTrip(ctx, req, c.longTermKey())
	if err != nil {
		return nil, errors.Wrap(err, "turn: round trip")
	}

	if key := c.longTermKey(); key != nil && resp.HasMessageIntegrity() {
		if verr := stunmsg.VerifyMessageIntegrity(resp, key, c.prim.HMAC); verr != nil {
			return nil, errors.Wrap(verr, "turn: response integrity check failed")
		}
	}
	return resp, nil
}
